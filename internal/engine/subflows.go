package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"requestline/internal/domain"
	"requestline/internal/repo"
)

// tokenBytes sizes the capability token random source. 32 bytes of entropy
// makes scanning the token space infeasible.
const tokenBytes = 32

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// InspectionOptions are parameters for requesting an inspection.
type InspectionOptions struct {
	RequestID        string
	ReviewerName     string
	ReviewerEmail    string
	DevTestNotes     string
	TestInstructions string
	ActorID          string
}

// RequestInspection creates an inspection with the next sequence number for
// the request and a fresh capability token. The raw token is returned once,
// here; only its hash is stored. The request's status is not altered.
func (e Engine) RequestInspection(ctx context.Context, opts InspectionOptions) (domain.Inspection, string, error) {
	if opts.ReviewerName == "" {
		return domain.Inspection{}, "", ValidationError{Field: "reviewer_name", Reason: "required"}
	}
	if opts.ReviewerEmail == "" {
		return domain.Inspection{}, "", ValidationError{Field: "reviewer_email", Reason: "required"}
	}
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Inspection{}, "", err
	}
	token, err := newToken()
	if err != nil {
		return domain.Inspection{}, "", err
	}
	in := domain.Inspection{
		ID:               uuid.New().String(),
		RequestID:        req.ID,
		ReviewerName:     opts.ReviewerName,
		ReviewerEmail:    opts.ReviewerEmail,
		DevTestNotes:     opts.DevTestNotes,
		TestInstructions: opts.TestInstructions,
		TokenHash:        repo.HashToken(token),
		Result:           domain.InspectionPending,
		CreatedAt:        e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, "", err
	}
	defer tx.Rollback()
	seq, err := e.Repo.InsertInspection(ctx, tx, in)
	if err != nil {
		return domain.Inspection{}, "", err
	}
	in.Seq = seq
	content := fmt.Sprintf("inspection %d requested, reviewer %s; completion link sent by mail", seq, opts.ReviewerEmail)
	if err := e.Steps.Append(ctx, tx, req.ID, &opts.ActorID, content, req.Status); err != nil {
		return domain.Inspection{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Inspection{}, "", err
	}
	e.notifier().InspectionRequested(in.ID, in.ReviewerEmail, CompletionPath(token))
	return in, token, nil
}

// CompletionPath is the API path an external reviewer uses to submit a
// verdict. The token is the only credential in it.
func CompletionPath(token string) string {
	return "/inspections/" + token
}

// SubmitInspectionResult records a reviewer verdict, identified by capability
// token alone. A verdict is recorded once; resubmission after a recorded
// result is rejected. The appended step carries no actor.
func (e Engine) SubmitInspectionResult(ctx context.Context, token, verdict, note string) (domain.Inspection, error) {
	if verdict != domain.InspectionComplete && verdict != domain.InspectionNeedsRework {
		return domain.Inspection{}, ValidationError{Field: "verdict", Reason: "must be complete or needs_rework"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, err
	}
	defer tx.Rollback()
	in, err := e.Repo.GetInspectionByTokenHash(ctx, tx, repo.HashToken(token))
	if err != nil {
		return domain.Inspection{}, err
	}
	if in.Result != domain.InspectionPending {
		return in, InvalidTransitionError{RequestID: in.RequestID, Status: in.Result, Op: "submit inspection result"}
	}
	req, err := e.Repo.GetRequestTx(ctx, tx, in.RequestID)
	if err != nil {
		return in, err
	}
	at := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.SetInspectionResult(ctx, tx, in.ID, verdict, note, at)
	if err != nil {
		return in, err
	}
	if !ok {
		return in, ErrConcurrencyConflict
	}
	content := fmt.Sprintf("inspection %d complete", in.Seq)
	if verdict == domain.InspectionNeedsRework {
		content = fmt.Sprintf("inspection %d rework requested", in.Seq)
	}
	if err := e.Steps.Append(ctx, tx, in.RequestID, nil, content, req.Status); err != nil {
		return in, err
	}
	if err := tx.Commit(); err != nil {
		return in, err
	}
	in.Result = verdict
	in.ResultNote = note
	in.ResultAt = &at
	return in, nil
}

// ReleaseOptions are parameters for requesting a release.
type ReleaseOptions struct {
	RequestID    string
	ReleaseDate  string
	SourceSystem string
	TargetSystem string
	TicketNumber string
	Description  string
	ActorID      string
}

// RequestRelease creates an unapproved release record for a request. The
// request's status is not altered.
func (e Engine) RequestRelease(ctx context.Context, opts ReleaseOptions) (domain.Release, error) {
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Release{}, err
	}
	rel := domain.Release{
		ID:           uuid.New().String(),
		RequestID:    req.ID,
		ReleaseDate:  opts.ReleaseDate,
		SourceSystem: opts.SourceSystem,
		TargetSystem: opts.TargetSystem,
		TicketNumber: opts.TicketNumber,
		Description:  opts.Description,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Release{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRelease(ctx, tx, rel); err != nil {
		return domain.Release{}, err
	}
	if err := e.Steps.Append(ctx, tx, req.ID, &opts.ActorID, "release requested for "+rel.TargetSystem, req.Status); err != nil {
		return domain.Release{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Release{}, err
	}
	return rel, nil
}

// ApproveRelease marks a release approved, independent of the owning
// request's status. Re-approval overwrites the approver and timestamp, as
// the source system allowed.
func (e Engine) ApproveRelease(ctx context.Context, releaseID, actorID string) (domain.Release, error) {
	if actorID == "" {
		return domain.Release{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Release{}, err
	}
	defer tx.Rollback()
	rel, err := e.Repo.GetReleaseTx(ctx, tx, releaseID)
	if err != nil {
		return domain.Release{}, err
	}
	req, err := e.Repo.GetRequestTx(ctx, tx, rel.RequestID)
	if err != nil {
		return rel, err
	}
	at := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, actorID, at); err != nil {
		return rel, err
	}
	if err := e.Repo.ApproveRelease(ctx, tx, rel.ID, actorID, at); err != nil {
		return rel, err
	}
	if err := e.Steps.Append(ctx, tx, rel.RequestID, &actorID, "release approved for "+rel.TargetSystem, req.Status); err != nil {
		return rel, err
	}
	if err := tx.Commit(); err != nil {
		return rel, err
	}
	rel.Approved = true
	rel.ApproverID = &actorID
	rel.ApprovedAt = &at
	return rel, nil
}

// AttachOptions are parameters for binding an artifact to a request or step.
type AttachOptions struct {
	RequestID string
	StepID    *int64
	Origin    string
	FileName  string
	Data      []byte
	ActorID   string
}

// Attach stores an attachment record for a request, optionally writing the
// blob under the engine's blob directory. With no blob directory configured
// only the metadata row is kept (external storage).
func (e Engine) Attach(ctx context.Context, opts AttachOptions) (domain.Attachment, error) {
	switch opts.Origin {
	case domain.AttachmentOriginRequest, domain.AttachmentOriginReception, domain.AttachmentOriginStep:
	default:
		return domain.Attachment{}, ValidationError{Field: "origin", Reason: "must be request, reception or step"}
	}
	if opts.FileName == "" {
		return domain.Attachment{}, ValidationError{Field: "file_name", Reason: "required"}
	}
	req, err := e.Repo.GetRequest(ctx, opts.RequestID)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		StepID:    opts.StepID,
		Origin:    opts.Origin,
		FileName:  opts.FileName,
		SizeBytes: int64(len(opts.Data)),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if e.BlobDir != "" && len(opts.Data) > 0 {
		ref := a.ID + filepath.Ext(opts.FileName)
		if err := os.WriteFile(filepath.Join(e.BlobDir, ref), opts.Data, 0o644); err != nil {
			return domain.Attachment{}, err
		}
		a.BlobRef = ref
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return domain.Attachment{}, err
	}
	if err := e.Steps.Append(ctx, tx, req.ID, &opts.ActorID, "attachment added: "+a.FileName, req.Status); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}
