package mcp

import (
	"context"
	"encoding/json"

	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/engine/auth"
	"steward/internal/repo"
)

type listArgs struct {
	OrganizationID string `json:"organizationId"`
	PropertyID     string `json:"propertyId"`
	Status         string `json:"status"`
	Direction      string `json:"direction"`
	AfterID        int64  `json:"afterId"`
	Limit          int    `json:"limit"`
	Cursor         string `json:"cursor"`
}

type getArgs struct {
	OrganizationID string `json:"organizationId"`
	ID             string `json:"id"`
}

type agentContext struct {
	Label string `json:"label"`
	Tool  string `json:"tool"`
	RunID string `json:"runId"`
}

// proposeEnvelope is the shared argument shape of every draft_* tool.
type proposeEnvelope struct {
	OrganizationID   string         `json:"organizationId"`
	EntityID         *string        `json:"entityId,omitempty"`
	Label            string         `json:"label,omitempty"`
	ReasoningSummary string         `json:"reasoningSummary"`
	Confidence       *float64       `json:"confidence,omitempty"`
	AgentContext     *agentContext  `json:"agentContext,omitempty"`
	Data             map[string]any `json:"data"`
}

func badArg(field, reason string) error {
	return &engine.ValidationError{Field: field, Reason: reason}
}

func (g *Gateway) buildHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"org_list":         g.orgList,
		"org_get":          g.orgGet,
		"property_list":    g.propertyList,
		"property_get":     g.propertyGet,
		"asset_list":       g.assetList,
		"asset_get":        g.assetGet,
		"vendor_list":      g.vendorList,
		"vendor_get":       g.vendorGet,
		"lease_list":       g.leaseList,
		"lease_get":        g.leaseGet,
		"maintenance_list": g.maintenanceList,
		"maintenance_get":  g.maintenanceGet,
		"document_list":    g.documentList,
		"document_get":     g.documentGet,
		"finance_list":     g.financeList,
		"finance_get":      g.financeGet,
		"timeline_list":    g.timelineList,
		"note_list":        g.noteList,

		"draft_create_property":    g.propose(domain.VerbCreate, domain.EntityProperty),
		"draft_create_asset":       g.propose(domain.VerbCreate, domain.EntityAsset),
		"draft_create_maintenance": g.propose(domain.VerbCreate, domain.EntityMaintenance),
		"draft_update_maintenance": g.propose(domain.VerbUpdate, domain.EntityMaintenance),
		"draft_create_note":        g.propose(domain.VerbCreate, domain.EntityNote),
		"draft_create_document":    g.propose(domain.VerbCreate, domain.EntityDocument),
		"draft_create_lease":       g.propose(domain.VerbCreate, domain.EntityLease),
		"draft_create_finance":     g.propose(domain.VerbCreate, domain.EntityFinance),

		"draft_list":    g.draftList,
		"draft_get":     g.draftGet,
		"draft_preview": g.draftPreview,
	}
}

func decodeList(args json.RawMessage) (listArgs, error) {
	var a listArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return a, badArg("arguments", "not a JSON object")
		}
	}
	if a.OrganizationID == "" {
		return a, badArg("organizationId", "required")
	}
	return a, nil
}

func decodeGet(args json.RawMessage) (getArgs, error) {
	var a getArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return a, badArg("arguments", "not a JSON object")
		}
	}
	if a.OrganizationID == "" {
		return a, badArg("organizationId", "required")
	}
	if a.ID == "" {
		return a, badArg("id", "required")
	}
	return a, nil
}

func (a listArgs) page() repo.ListPage {
	return repo.ListPage{Limit: a.Limit, Cursor: a.Cursor}
}

func items[T any](list []T) map[string]any {
	if list == nil {
		list = []T{}
	}
	return map[string]any{"items": list}
}

func (g *Gateway) orgList(ctx context.Context, c Caller, _ json.RawMessage) (any, error) {
	orgs, err := g.Repo.ListOrganizationsFor(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	return items(orgs), nil
}

func (g *Gateway) orgGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	var a struct {
		OrganizationID string `json:"organizationId"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, badArg("arguments", "not a JSON object")
		}
	}
	if a.OrganizationID == "" {
		return nil, badArg("organizationId", "required")
	}
	if err := g.Engine.Auth.Require(ctx, a.OrganizationID, c.UserID, auth.Perm("read", "organization")); err != nil {
		return nil, err
	}
	return g.Repo.GetOrganization(ctx, a.OrganizationID)
}

// requireRead runs the membership and permission check before anything
// touches entity tables.
func (g *Gateway) requireRead(ctx context.Context, c Caller, orgID, entity string) error {
	return g.Engine.Auth.Require(ctx, orgID, c.UserID, auth.Perm("read", entity))
}

func (g *Gateway) propertyList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityProperty); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListProperties(ctx, a.OrganizationID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) propertyGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityProperty); err != nil {
		return nil, err
	}
	return g.Repo.GetProperty(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) assetList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityAsset); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListAssets(ctx, a.OrganizationID, a.PropertyID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) assetGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityAsset); err != nil {
		return nil, err
	}
	return g.Repo.GetAsset(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) vendorList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityVendor); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListVendors(ctx, a.OrganizationID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) vendorGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityVendor); err != nil {
		return nil, err
	}
	return g.Repo.GetVendor(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) leaseList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityLease); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListLeases(ctx, a.OrganizationID, a.PropertyID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) leaseGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityLease); err != nil {
		return nil, err
	}
	return g.Repo.GetLease(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) maintenanceList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityMaintenance); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListMaintenance(ctx, a.OrganizationID, a.PropertyID, a.Status, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) maintenanceGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityMaintenance); err != nil {
		return nil, err
	}
	return g.Repo.GetMaintenance(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) documentList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityDocument); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListDocuments(ctx, a.OrganizationID, a.PropertyID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) documentGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityDocument); err != nil {
		return nil, err
	}
	return g.Repo.GetDocument(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) financeList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityFinance); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListFinance(ctx, a.OrganizationID, a.PropertyID, a.Direction, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) financeGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityFinance); err != nil {
		return nil, err
	}
	return g.Repo.GetFinance(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) timelineList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, "timeline"); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListTimeline(ctx, a.OrganizationID, a.PropertyID, a.AfterID, a.Limit)
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) noteList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityNote); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListNotes(ctx, a.OrganizationID, a.PropertyID, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

// propose builds the handler for one draft_* tool. The author starts as the
// boundary actor; a connection-level MCP caller is promoted to an AGENT
// author when the envelope carries agentContext.
func (g *Gateway) propose(verb, entityType string) handlerFunc {
	return func(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
		var env proposeEnvelope
		if len(args) == 0 {
			return nil, badArg("arguments", "required")
		}
		if err := json.Unmarshal(args, &env); err != nil {
			return nil, badArg("arguments", "not a JSON object")
		}
		if verb == domain.VerbUpdate && (env.EntityID == nil || *env.EntityID == "") {
			return nil, badArg("entityId", "required")
		}
		author := c.Actor
		if author.Kind == domain.ActorMCP && env.AgentContext != nil {
			author = domain.AgentActor(c.Actor.ID, env.AgentContext.Label, env.AgentContext.Tool, env.AgentContext.RunID)
		}
		op := domain.Operation{Verb: verb, EntityType: entityType, Data: env.Data}
		if verb == domain.VerbUpdate {
			op.EntityID = env.EntityID
		}
		draft, err := g.Engine.CreateDraft(ctx, engine.DraftOptions{
			OrgID:        env.OrganizationID,
			Title:        env.Label,
			Reasoning:    env.ReasoningSummary,
			Confidence:   env.Confidence,
			Author:       author,
			CallerUserID: c.UserID,
			Operations:   []domain.Operation{op},
		})
		if err != nil {
			return nil, err
		}
		return draft, nil
	}
}

func (g *Gateway) draftList(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeList(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityProposal); err != nil {
		return nil, err
	}
	list, err := g.Repo.ListProposals(ctx, a.OrganizationID, a.Status, a.page())
	if err != nil {
		return nil, err
	}
	return items(list), nil
}

func (g *Gateway) draftGet(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	if err := g.requireRead(ctx, c, a.OrganizationID, domain.EntityProposal); err != nil {
		return nil, err
	}
	return g.Repo.GetProposal(ctx, a.OrganizationID, a.ID)
}

func (g *Gateway) draftPreview(ctx context.Context, c Caller, args json.RawMessage) (any, error) {
	a, err := decodeGet(args)
	if err != nil {
		return nil, err
	}
	p, previews, err := g.Engine.Preview(ctx, a.OrganizationID, a.ID, c.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": p, "previews": previews}, nil
}
