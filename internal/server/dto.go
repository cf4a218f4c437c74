package server

import (
	"requestline/internal/domain"
)

// Request payloads

type CreateRequestRequest struct {
	ID             *string  `json:"id,omitempty"`
	Type           string   `json:"type"`
	System         string   `json:"system,omitempty"`
	Module         string   `json:"module,omitempty"`
	Department     string   `json:"department,omitempty"`
	Requester      string   `json:"requester,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Details        string   `json:"details,omitempty"`
	RequestedDate  string   `json:"requested_date,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	ExpectedEffort *float64 `json:"expected_effort,omitempty"`
}

type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type SplitRequest struct {
	System       string `json:"system,omitempty"`
	Module       string `json:"module,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
	SplitContent string `json:"split_content,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
}

type AcceptRequest struct {
	DueDate          string   `json:"due_date,omitempty"`
	ReceivingOpinion string   `json:"receiving_opinion,omitempty"`
	ExpectedEffort   *float64 `json:"expected_effort,omitempty"`
}

type CompleteRequest struct {
	CompletionDate    string   `json:"completion_date,omitempty"`
	CompletionContent string   `json:"completion_content,omitempty"`
	ActualEffort      *float64 `json:"actual_effort,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type CreateInspectionRequest struct {
	ReviewerName     string `json:"reviewer_name"`
	ReviewerEmail    string `json:"reviewer_email"`
	DevTestNotes     string `json:"dev_test_notes,omitempty"`
	TestInstructions string `json:"test_instructions,omitempty"`
}

type SubmitInspectionRequest struct {
	Verdict string `json:"verdict" enum:"complete,needs_rework"`
	Note    string `json:"note,omitempty"`
}

type CreateReleaseRequest struct {
	ReleaseDate  string `json:"release_date,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`
	TargetSystem string `json:"target_system,omitempty"`
	TicketNumber string `json:"ticket_number,omitempty"`
	Description  string `json:"description,omitempty"`
}

type CreateAttachmentRequest struct {
	StepID   *int64 `json:"step_id,omitempty"`
	Origin   string `json:"origin" enum:"request,reception,step"`
	FileName string `json:"file_name"`
	Data     []byte `json:"data,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type RequestResponse struct {
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

type StepResponse struct {
	ID        int64   `json:"id"`
	RequestID string  `json:"request_id"`
	Seq       int     `json:"seq"`
	ActorID   *string `json:"actor_id,omitempty"`
	Content   string  `json:"content"`
	Status    string  `json:"status"`
	TS        string  `json:"ts" format:"date-time"`
}

type InspectionResponse struct {
	ID               string  `json:"id"`
	RequestID        string  `json:"request_id"`
	Seq              int     `json:"seq"`
	ReviewerName     string  `json:"reviewer_name"`
	ReviewerEmail    string  `json:"reviewer_email"`
	DevTestNotes     string  `json:"dev_test_notes,omitempty"`
	TestInstructions string  `json:"test_instructions,omitempty"`
	Result           string  `json:"result" enum:"pending,complete,needs_rework"`
	ResultNote       string  `json:"result_note,omitempty"`
	ResultAt         *string `json:"result_at,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// CreatedInspectionResponse carries the one-time raw token alongside the
// inspection record.
type CreatedInspectionResponse struct {
	InspectionResponse
	Token          string `json:"token"`
	CompletionPath string `json:"completion_path"`
}

type ReleaseResponse struct {
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

type AttachmentResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	StepID    *int64 `json:"step_id,omitempty"`
	Origin    string `json:"origin" enum:"request,reception,step"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CodeResponse struct {
	Group      string  `json:"group"`
	Code       string  `json:"code"`
	Label      string  `json:"label"`
	ParentCode *string `json:"parent_code,omitempty"`
	SortOrder  int     `json:"sort_order"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CreatedAPIKeyResponse carries the one-time raw key.
type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type TreeResponse struct {
	Root     RequestResponse   `json:"root"`
	Children []RequestResponse `json:"children"`
}

type paginatedRequests struct {
	Items      []RequestResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Conversion helpers

func requestResponse(r domain.Request) RequestResponse {
	return RequestResponse{
		ID:                r.ID,
		ParentID:          r.ParentID,
		Type:              r.Type,
		System:            r.System,
		Module:            r.Module,
		Department:        r.Department,
		Requester:         r.Requester,
		Reason:            r.Reason,
		Details:           r.Details,
		ReceivingOpinion:  r.ReceivingOpinion,
		RejectReason:      r.RejectReason,
		CompletionContent: r.CompletionContent,
		SplitContent:      r.SplitContent,
		RequestedDate:     r.RequestedDate,
		ReceivedDate:      r.ReceivedDate,
		DueDate:           r.DueDate,
		CompletionDate:    r.CompletionDate,
		Status:            r.Status,
		AssigneeID:        r.AssigneeID,
		ExpectedEffort:    r.ExpectedEffort,
		ActualEffort:      r.ActualEffort,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func mapRequests(items []domain.Request) []RequestResponse {
	res := make([]RequestResponse, 0, len(items))
	for _, r := range items {
		res = append(res, requestResponse(r))
	}
	return res
}

func stepResponse(s domain.Step) StepResponse {
	return StepResponse(s)
}

func mapSteps(items []domain.Step) []StepResponse {
	res := make([]StepResponse, 0, len(items))
	for _, s := range items {
		res = append(res, stepResponse(s))
	}
	return res
}

func inspectionResponse(in domain.Inspection) InspectionResponse {
	return InspectionResponse{
		ID:               in.ID,
		RequestID:        in.RequestID,
		Seq:              in.Seq,
		ReviewerName:     in.ReviewerName,
		ReviewerEmail:    in.ReviewerEmail,
		DevTestNotes:     in.DevTestNotes,
		TestInstructions: in.TestInstructions,
		Result:           in.Result,
		ResultNote:       in.ResultNote,
		ResultAt:         in.ResultAt,
		CreatedAt:        in.CreatedAt,
	}
}

func mapInspections(items []domain.Inspection) []InspectionResponse {
	res := make([]InspectionResponse, 0, len(items))
	for _, in := range items {
		res = append(res, inspectionResponse(in))
	}
	return res
}

func releaseResponse(rel domain.Release) ReleaseResponse {
	return ReleaseResponse(rel)
}

func mapReleases(items []domain.Release) []ReleaseResponse {
	res := make([]ReleaseResponse, 0, len(items))
	for _, rel := range items {
		res = append(res, releaseResponse(rel))
	}
	return res
}

func attachmentResponse(a domain.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:        a.ID,
		RequestID: a.RequestID,
		StepID:    a.StepID,
		Origin:    a.Origin,
		FileName:  a.FileName,
		SizeBytes: a.SizeBytes,
		CreatedAt: a.CreatedAt,
	}
}

func mapAttachments(items []domain.Attachment) []AttachmentResponse {
	res := make([]AttachmentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, attachmentResponse(a))
	}
	return res
}

func codeResponse(c domain.Code) CodeResponse {
	return CodeResponse(c)
}

func mapCodes(items []domain.Code) []CodeResponse {
	res := make([]CodeResponse, 0, len(items))
	for _, c := range items {
		res = append(res, codeResponse(c))
	}
	return res
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}
