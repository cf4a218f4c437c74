package engine

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/google/uuid"

	"requestline/internal/config"
	"requestline/internal/domain"
	"requestline/internal/repo"
	"requestline/internal/steps"
)

const codeGroupRequestTypes = "request_types"

// Notifier receives fire-and-forget lifecycle events after a mutation has
// committed. Implementations must not block.
type Notifier interface {
	RequestStatusChanged(requestID, oldStatus, newStatus string)
	InspectionRequested(inspectionID, reviewerEmail, link string)
}

type noopNotifier struct{}

func (noopNotifier) RequestStatusChanged(string, string, string) {}
func (noopNotifier) InspectionRequested(string, string, string)  {}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Steps    steps.Writer
	Config   *config.Config
	Notifier Notifier
	BlobDir  string
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Steps:    steps.Writer{},
		Config:   cfg,
		Notifier: noopNotifier{},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) notifier() Notifier {
	if e.Notifier != nil {
		return e.Notifier
	}
	return noopNotifier{}
}

// CreateOptions are parameters for creating a request.
type CreateOptions struct {
	ID             string
	Type           string
	System         string
	Module         string
	Department     string
	Requester      string
	Reason         string
	Details        string
	RequestedDate  string
	DueDate        string
	ExpectedEffort *float64
	ActorID        string
}

// Create validates the type against the code registry and inserts a new
// request with status created, assigned to the creating actor.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Request, error) {
	if opts.Type == "" {
		return domain.Request{}, ValidationError{Field: "type", Reason: "required"}
	}
	if opts.ActorID == "" {
		return domain.Request{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	if _, err := e.Repo.ResolveCode(ctx, codeGroupRequestTypes, opts.Type); err != nil {
		if err == repo.ErrNotFound {
			return domain.Request{}, InvalidTypeError{Group: codeGroupRequestTypes, Code: opts.Type}
		}
		return domain.Request{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	req := domain.Request{
		ID:             id,
		Type:           opts.Type,
		System:         opts.System,
		Module:         opts.Module,
		Department:     opts.Department,
		Requester:      opts.Requester,
		Reason:         opts.Reason,
		Details:        opts.Details,
		RequestedDate:  opts.RequestedDate,
		ReceivedDate:   now,
		DueDate:        optionalString(opts.DueDate),
		Status:         domain.StatusCreated,
		AssigneeID:     &opts.ActorID,
		ExpectedEffort: roundEffort(opts.ExpectedEffort),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if opts.ID != "" {
		// caller-chosen IDs must not shadow an existing request
		if _, err := e.Repo.GetRequestTx(ctx, tx, opts.ID); err == nil {
			return domain.Request{}, ValidationError{Field: "id", Reason: "already in use"}
		} else if err != repo.ErrNotFound {
			return domain.Request{}, err
		}
	}
	if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Request{}, err
	}
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return domain.Request{}, err
	}
	if err := e.Steps.Append(ctx, tx, req.ID, &opts.ActorID, "request created", req.Status); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// Approve moves a request from created to processing.
func (e Engine) Approve(ctx context.Context, requestID, actorID string) (domain.Request, error) {
	return e.transition(ctx, requestID, actorID, "approve", "request approved",
		domain.StatusCreated, domain.StatusProcessing, nil)
}

// Assign sets a new assignee. Assignment in created status implies acceptance
// and moves the request to processing. A same-assignee call still records a
// step; the source system behaved that way and the audit trail keeps it.
func (e Engine) Assign(ctx context.Context, requestID, newAssignee, actorID string) (domain.Request, error) {
	if newAssignee == "" {
		return domain.Request{}, ValidationError{Field: "assignee_id", Reason: "required"}
	}
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if domain.TerminalStatus(req.Status) {
		return req, InvalidTransitionError{RequestID: requestID, Status: req.Status, Op: "assign"}
	}
	previous := "unassigned"
	if req.AssigneeID != nil {
		previous = *req.AssigneeID
	}
	oldStatus := req.Status
	req.AssigneeID = &newAssignee
	if req.Status == domain.StatusCreated {
		req.Status = domain.StatusProcessing
	}
	req.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, newAssignee, req.UpdatedAt); err != nil {
		return req, err
	}
	ok, err := e.Repo.UpdateRequestGuarded(ctx, tx, req, oldStatus)
	if err != nil {
		return req, err
	}
	if !ok {
		return req, ErrConcurrencyConflict
	}
	content := "assignee changed from " + previous + " to " + newAssignee
	if err := e.Steps.Append(ctx, tx, req.ID, &actorID, content, req.Status); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	if oldStatus != req.Status {
		e.notifier().RequestStatusChanged(req.ID, oldStatus, req.Status)
	}
	return req, nil
}

// SplitOptions are parameters for splitting a request into a child.
type SplitOptions struct {
	ParentID     string
	System       string
	Module       string
	DueDate      string
	SplitContent string
	AssigneeID   string
	ActorID      string
}

// Split creates a child request under the parent, copying the parent's type
// and requester identity. The parent's status is untouched; only its audit
// trail records the split.
func (e Engine) Split(ctx context.Context, opts SplitOptions) (domain.Request, error) {
	parent, err := e.Repo.GetRequest(ctx, opts.ParentID)
	if err != nil {
		return domain.Request{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	child := domain.Request{
		ID:            uuid.New().String(),
		ParentID:      &parent.ID,
		Type:          parent.Type,
		System:        firstNonEmpty(opts.System, parent.System),
		Module:        firstNonEmpty(opts.Module, parent.Module),
		Department:    parent.Department,
		Requester:     parent.Requester,
		Reason:        parent.Reason,
		SplitContent:  opts.SplitContent,
		RequestedDate: parent.RequestedDate,
		ReceivedDate:  now,
		DueDate:       optionalString(opts.DueDate),
		Status:        domain.StatusCreated,
		AssigneeID:    optionalString(opts.AssigneeID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if opts.AssigneeID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, opts.AssigneeID, now); err != nil {
			return domain.Request{}, err
		}
	}
	if err := e.Repo.InsertRequest(ctx, tx, child); err != nil {
		return domain.Request{}, err
	}
	if err := e.Steps.Append(ctx, tx, child.ID, &opts.ActorID, "split from request "+parent.ID, child.Status); err != nil {
		return domain.Request{}, err
	}
	if err := e.Steps.Append(ctx, tx, parent.ID, &opts.ActorID, "split into request "+child.ID, parent.Status); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}
	return child, nil
}

// AcceptOptions are parameters for accepting a split child.
type AcceptOptions struct {
	RequestID        string
	DueDate          string
	ReceivingOpinion string
	ExpectedEffort   *float64
	ActorID          string
}

// Accept moves a split child from created to processing, recording the
// receiving department's opinion and the expected effort.
func (e Engine) Accept(ctx context.Context, opts AcceptOptions) (domain.Request, error) {
	return e.transition(ctx, opts.RequestID, opts.ActorID, "accept", "split request accepted",
		domain.StatusCreated, domain.StatusProcessing, func(req *domain.Request) {
			if opts.DueDate != "" {
				req.DueDate = &opts.DueDate
			}
			req.ReceivingOpinion = opts.ReceivingOpinion
			if opts.ExpectedEffort != nil {
				req.ExpectedEffort = roundEffort(opts.ExpectedEffort)
			}
		})
}

// CompleteOptions are parameters for completing a request.
type CompleteOptions struct {
	RequestID         string
	CompletionDate    string
	CompletionContent string
	ActualEffort      *float64
	ActorID           string
}

// Complete moves a request from processing to the terminal completed status.
func (e Engine) Complete(ctx context.Context, opts CompleteOptions) (domain.Request, error) {
	return e.transition(ctx, opts.RequestID, opts.ActorID, "complete", "request completed",
		domain.StatusProcessing, domain.StatusCompleted, func(req *domain.Request) {
			date := opts.CompletionDate
			if date == "" {
				date = e.now().UTC().Format(time.RFC3339)
			}
			req.CompletionDate = &date
			req.CompletionContent = opts.CompletionContent
			req.ActualEffort = roundEffort(opts.ActualEffort)
		})
}

// Reject moves a request from processing to the terminal cannot_process
// status. Mutually exclusive with Complete by the shared status guard.
func (e Engine) Reject(ctx context.Context, requestID, reason, actorID string) (domain.Request, error) {
	return e.transition(ctx, requestID, actorID, "reject", "request marked cannot process",
		domain.StatusProcessing, domain.StatusCannotProcess, func(req *domain.Request) {
			req.RejectReason = reason
		})
}

// transition applies the read-check-write pattern shared by the simple status
// transitions. mutate runs after the precondition check and before the
// guarded write.
func (e Engine) transition(ctx context.Context, requestID, actorID, op, stepContent, from, to string, mutate func(*domain.Request)) (domain.Request, error) {
	if actorID == "" {
		return domain.Request{}, ValidationError{Field: "actor_id", Reason: "required"}
	}
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		return req, err
	}
	if req.Status != from {
		return req, InvalidTransitionError{RequestID: requestID, Status: req.Status, Op: op}
	}
	if mutate != nil {
		mutate(&req)
	}
	req.Status = to
	req.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, req.UpdatedAt); err != nil {
		return req, err
	}
	ok, err := e.Repo.UpdateRequestGuarded(ctx, tx, req, from)
	if err != nil {
		return req, err
	}
	if !ok {
		return req, ErrConcurrencyConflict
	}
	if err := e.Steps.Append(ctx, tx, req.ID, &actorID, stepContent, req.Status); err != nil {
		return req, err
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	e.notifier().RequestStatusChanged(req.ID, from, to)
	return req, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// roundEffort normalises effort figures to two decimal places.
func roundEffort(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*100) / 100
	return &r
}
