// Package server exposes the review surface over HTTP: a small REST API for
// humans working through drafts, the JSON-RPC gateway mount, and a server-sent
// event stream of timeline activity.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"steward/internal/audit"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/engine/auth"
	"steward/internal/mcp"
	"steward/internal/repo"
)

// Config for the HTTP handler.
type Config struct {
	Engine   engine.Engine
	Gateway  *mcp.Gateway
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission review:proposal:org required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns the HTTP handler for the full API surface.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Steward API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerDrafts(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)

	registerRPC(router, cfg.Gateway)
	registerStream(router, cfg.Engine, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": verr.Field, "reason": verr.Reason})
	}
	var me auth.MembershipError
	if errors.As(err, &me) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, engine.ErrReviewerNotUser) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrAlreadyResolved) {
		return newAPIError(http.StatusConflict, "already_resolved", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "missing") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerDrafts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgId}/drafts",
		Summary:     "List drafts",
		Errors:      []int{http.StatusForbidden, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID  string `path:"orgId"`
		Status string `query:"status" enum:"PENDING,APPLIED,REJECTED" required:"false"`
		Limit  int    `query:"limit" required:"false"`
		Cursor string `query:"cursor" required:"false"`
	}) (*struct {
		Body DraftListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, input.OrgID, p.Actor.ID, auth.Perm("read", domain.EntityProposal)); err != nil {
			return nil, handleError(err)
		}
		list, err := e.Repo.ListProposals(ctx, input.OrgID, input.Status, repo.ListPage{Limit: input.Limit, Cursor: input.Cursor})
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Proposal{}
		}
		return &struct {
			Body DraftListResponse `json:"body"`
		}{Body: DraftListResponse{Items: list}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgId}/drafts/{id}",
		Summary:     "Get draft",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"orgId"`
		ID    string `path:"id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, input.OrgID, p.Actor.ID, auth.Perm("read", domain.EntityProposal)); err != nil {
			return nil, handleError(err)
		}
		draft, err := e.Repo.GetProposal(ctx, input.OrgID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: draft}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-draft",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgId}/drafts/{id}/preview",
		Summary:     "Preview the changes a draft would make",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"orgId"`
		ID    string `path:"id"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, previews, err := e.Preview(ctx, input.OrgID, input.ID, p.Actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: PreviewResponse{Draft: draft, Previews: previews}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-draft",
		Method:      http.MethodPost,
		Path:        "/orgs/{orgId}/drafts/{id}/approve",
		Summary:     "Approve and apply a draft",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID string `path:"orgId"`
		ID    string `path:"id"`
	}) (*struct {
		Body ApproveDraftResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, refs, err := e.Approve(ctx, input.OrgID, input.ID, p.Actor)
		if err != nil {
			return nil, handleError(err)
		}
		if refs == nil {
			refs = []domain.EntityRef{}
		}
		return &struct {
			Body ApproveDraftResponse `json:"body"`
		}{Body: ApproveDraftResponse{Draft: draft, Applied: refs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-draft",
		Method:      http.MethodPost,
		Path:        "/orgs/{orgId}/drafts/{id}/reject",
		Summary:     "Reject a draft",
		Errors:      []int{http.StatusConflict, http.StatusForbidden, http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID string             `path:"orgId"`
		ID    string             `path:"id"`
		Body  RejectDraftRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		draft, err := e.Reject(ctx, input.OrgID, input.ID, p.Actor, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: draft}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgId}/audit",
		Summary:     "List audit records",
		Errors:      []int{http.StatusForbidden, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"orgId"`
		EntityType string `query:"entity_type" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		AfterID    int64  `query:"after_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body AuditListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, input.OrgID, p.Actor.ID, auth.Perm("read", "audit")); err != nil {
			return nil, handleError(err)
		}
		recs, err := e.Repo.ListAudit(ctx, input.OrgID, input.EntityType, input.EntityID, input.AfterID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]AuditRecordResponse, 0, len(recs))
		for _, rec := range recs {
			paths, err := audit.ChangedPaths(rec.Before, rec.After)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, AuditRecordResponse{AuditRecord: rec, ChangedPaths: paths})
		}
		return &struct {
			Body AuditListResponse `json:"body"`
		}{Body: AuditListResponse{Items: items}}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-timeline",
		Method:      http.MethodGet,
		Path:        "/orgs/{orgId}/timeline",
		Summary:     "List timeline entries",
		Errors:      []int{http.StatusForbidden, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OrgID      string `path:"orgId"`
		PropertyID string `query:"property_id" required:"false"`
		AfterID    int64  `query:"after_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body TimelineListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.Require(ctx, input.OrgID, p.Actor.ID, auth.Perm("read", "timeline")); err != nil {
			return nil, handleError(err)
		}
		list, err := e.Repo.ListTimeline(ctx, input.OrgID, input.PropertyID, input.AfterID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.TimelineEntry{}
		}
		return &struct {
			Body TimelineListResponse `json:"body"`
		}{Body: TimelineListResponse{Items: list}}, nil
	})
}

// registerRPC mounts the JSON-RPC gateway. A nil response body from the
// gateway means the input was nothing but notifications, which per JSON-RPC
// gets no reply at all.
func registerRPC(router chi.Router, g *mcp.Gateway) {
	router.Post("/rpc", func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok || p.Actor.IsZero() {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable body", nil))
			return
		}
		caller := mcp.Caller{Actor: p.Actor, UserID: p.Actor.ID}
		resp := g.Handle(r.Context(), caller, body)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	})
}
