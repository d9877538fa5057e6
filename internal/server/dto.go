package server

import (
	"steward/internal/domain"
	"steward/internal/engine"
)

// Request payloads

type RejectDraftRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type DraftListResponse struct {
	Items []domain.Proposal `json:"items"`
}

type ApproveDraftResponse struct {
	Draft   domain.Proposal    `json:"draft"`
	Applied []domain.EntityRef `json:"applied"`
}

type PreviewResponse struct {
	Draft    domain.Proposal    `json:"draft"`
	Previews []engine.OpPreview `json:"previews"`
}

// AuditRecordResponse is an audit record plus the paths the change touched,
// computed from the stored before/after images.
type AuditRecordResponse struct {
	domain.AuditRecord
	ChangedPaths []string `json:"changed_paths,omitempty"`
}

type AuditListResponse struct {
	Items []AuditRecordResponse `json:"items"`
}

type TimelineListResponse struct {
	Items []domain.TimelineEntry `json:"items"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
