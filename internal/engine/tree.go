package engine

import (
	"context"
	"errors"

	"requestline/internal/domain"
)

// maxTreeDepth bounds parent-chain walks. Splits are expected to stay
// shallow; anything deeper than this is treated as a corrupt chain.
const maxTreeDepth = 64

// IsRoot reports whether the request has no parent.
func IsRoot(req domain.Request) bool { return req.ParentID == nil }

// IsChild reports whether the request was created by a split.
func IsChild(req domain.Request) bool { return req.ParentID != nil }

// GetRoot walks the parent chain to the root request. The walk carries a
// visited set so a cyclic parent_id chain fails instead of looping.
func (e Engine) GetRoot(ctx context.Context, requestID string) (domain.Request, error) {
	visited := map[string]bool{}
	cur, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return cur, err
	}
	for depth := 0; depth < maxTreeDepth; depth++ {
		if cur.ParentID == nil {
			return cur, nil
		}
		if visited[cur.ID] {
			return cur, errors.New("request parent chain contains a cycle")
		}
		visited[cur.ID] = true
		cur, err = e.Repo.GetRequest(ctx, *cur.ParentID)
		if err != nil {
			return cur, err
		}
	}
	return cur, errors.New("request parent chain exceeds depth limit")
}

// SiblingsAndSelf returns the requests sharing this request's parent. For a
// root request it returns the root's direct children, the convention the
// split overview screens rely on.
func (e Engine) SiblingsAndSelf(ctx context.Context, requestID string) ([]domain.Request, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ParentID != nil {
		return e.Repo.ListChildren(ctx, *req.ParentID)
	}
	return e.Repo.ListChildren(ctx, req.ID)
}

// RootAttachments returns the attachment set of the whole split tree, viewed
// from any of its members. Every node sees the same aggregate. The walk is
// breadth-first over the full subtree, depth-bounded like GetRoot.
func (e Engine) RootAttachments(ctx context.Context, requestID string) ([]domain.Attachment, error) {
	root, err := e.GetRoot(ctx, requestID)
	if err != nil {
		return nil, err
	}
	var items []domain.Attachment
	level := []string{root.ID}
	for depth := 0; depth < maxTreeDepth && len(level) > 0; depth++ {
		var next []string
		for _, id := range level {
			more, err := e.Repo.ListAttachments(ctx, id)
			if err != nil {
				return nil, err
			}
			items = append(items, more...)
			children, err := e.Repo.ListChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				next = append(next, child.ID)
			}
		}
		level = next
	}
	return items, nil
}
