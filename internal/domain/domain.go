package domain

// Request statuses.
const (
	StatusCreated         = "created"
	StatusApprovalPending = "approval_pending"
	StatusProcessing      = "processing"
	StatusCompleted       = "completed"
	StatusCannotProcess   = "cannot_process"
)

// TerminalStatus reports whether a status permits no further lifecycle mutation.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusCannotProcess
}

type Request struct {
	ID                string   `json:"id"`
	ParentID          *string  `json:"parent_id,omitempty"`
	Type              string   `json:"type"`
	System            string   `json:"system,omitempty"`
	Module            string   `json:"module,omitempty"`
	Department        string   `json:"department,omitempty"`
	Requester         string   `json:"requester,omitempty"`
	Reason            string   `json:"reason,omitempty"`
	Details           string   `json:"details,omitempty"`
	ReceivingOpinion  string   `json:"receiving_opinion,omitempty"`
	RejectReason      string   `json:"reject_reason,omitempty"`
	CompletionContent string   `json:"completion_content,omitempty"`
	SplitContent      string   `json:"split_content,omitempty"`
	RequestedDate     string   `json:"requested_date,omitempty"`
	ReceivedDate      string   `json:"received_date" format:"date-time"`
	DueDate           *string  `json:"due_date,omitempty"`
	CompletionDate    *string  `json:"completion_date,omitempty"`
	Status            string   `json:"status" enum:"created,approval_pending,processing,completed,cannot_process"`
	AssigneeID        *string  `json:"assignee_id,omitempty"`
	ExpectedEffort    *float64 `json:"expected_effort,omitempty"`
	ActualEffort      *float64 `json:"actual_effort,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

// Step is one immutable audit-log entry. ActorID is nil for events produced
// by unauthenticated callers (inspection result submissions).
type Step struct {
	ID        int64   `json:"id"`
	RequestID string  `json:"request_id"`
	Seq       int     `json:"seq"`
	ActorID   *string `json:"actor_id,omitempty"`
	Content   string  `json:"content"`
	Status    string  `json:"status"`
	TS        string  `json:"ts" format:"date-time"`
}

// Attachment origins.
const (
	AttachmentOriginRequest   = "request"
	AttachmentOriginReception = "reception"
	AttachmentOriginStep      = "step"
)

type Attachment struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	StepID    *int64 `json:"step_id,omitempty"`
	Origin    string `json:"origin" enum:"request,reception,step"`
	FileName  string `json:"file_name"`
	BlobRef   string `json:"blob_ref,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Inspection results.
const (
	InspectionPending     = "pending"
	InspectionComplete    = "complete"
	InspectionNeedsRework = "needs_rework"
)

type Inspection struct {
	ID               string  `json:"id"`
	RequestID        string  `json:"request_id"`
	Seq              int     `json:"seq"`
	ReviewerName     string  `json:"reviewer_name"`
	ReviewerEmail    string  `json:"reviewer_email"`
	DevTestNotes     string  `json:"dev_test_notes,omitempty"`
	TestInstructions string  `json:"test_instructions,omitempty"`
	TokenHash        string  `json:"-"`
	Result           string  `json:"result" enum:"pending,complete,needs_rework"`
	ResultNote       string  `json:"result_note,omitempty"`
	ResultAt         *string `json:"result_at,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Release struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	SourceSystem string  `json:"source_system,omitempty"`
	TargetSystem string  `json:"target_system,omitempty"`
	TicketNumber string  `json:"ticket_number,omitempty"`
	Description  string  `json:"description,omitempty"`
	Approved     bool    `json:"approved"`
	ApproverID   *string `json:"approver_id,omitempty"`
	ApprovedAt   *string `json:"approved_at,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Code is one entry of the hierarchical code registry.
type Code struct {
	Group      string  `json:"group"`
	Code       string  `json:"code"`
	Label      string  `json:"label"`
	ParentCode *string `json:"parent_code,omitempty"`
	SortOrder  int     `json:"sort_order"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
