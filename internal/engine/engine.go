package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"steward/internal/audit"
	"steward/internal/config"
	"steward/internal/domain"
	"steward/internal/engine/auth"
	"steward/internal/repo"
)

// ErrReviewerNotUser rejects approve and reject calls from anything that is
// not a human principal. Agents propose; people decide.
var ErrReviewerNotUser = errors.New("only a user may approve or reject a proposal")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Auth:   auth.Service{DB: db, Roles: cfg},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() string {
	t := time.Now()
	if e.Now != nil {
		t = e.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// DraftOptions are parameters for creating a proposal.
type DraftOptions struct {
	OrgID      string
	Title      string
	Summary    string
	Reasoning  string
	Confidence *float64
	Author     domain.Actor
	// CallerUserID is the membership subject: the user ID for human callers,
	// the configured caller ID for MCP connections.
	CallerUserID string
	Operations   []domain.Operation
}

// CreateDraft validates and persists a PENDING proposal. Validation runs here
// for early feedback and again, authoritatively, at apply time.
func (e Engine) CreateDraft(ctx context.Context, opts DraftOptions) (domain.Proposal, error) {
	if opts.OrgID == "" {
		return domain.Proposal{}, invalid("organizationId", "required")
	}
	if opts.Author.IsZero() {
		return domain.Proposal{}, errors.New("author is required")
	}
	if opts.Reasoning == "" {
		return domain.Proposal{}, invalid("reasoningSummary", "required")
	}
	if opts.Confidence != nil && (*opts.Confidence < 0 || *opts.Confidence > 1) {
		return domain.Proposal{}, invalid("confidence", "must be between 0 and 1")
	}
	if len(opts.Operations) == 0 {
		return domain.Proposal{}, invalid("data", "at least one operation required")
	}

	if err := e.Auth.Require(ctx, opts.OrgID, opts.CallerUserID, auth.Perm("create", domain.EntityProposal)); err != nil {
		return domain.Proposal{}, err
	}
	for _, op := range opts.Operations {
		if err := e.Auth.Require(ctx, opts.OrgID, opts.CallerUserID, auth.Perm(op.Verb, op.EntityType)); err != nil {
			return domain.Proposal{}, err
		}
	}
	for _, op := range opts.Operations {
		if verr := ValidateOperation(op); verr != nil {
			return domain.Proposal{}, verr
		}
		if verr := e.resolveRefs(ctx, nil, opts.OrgID, op); verr != nil {
			return domain.Proposal{}, verr
		}
	}

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("%s %s", opts.Operations[0].Verb, opts.Operations[0].EntityType)
	}
	p := domain.Proposal{
		ID:         uuid.NewString(),
		OrgID:      opts.OrgID,
		Status:     domain.ProposalPending,
		Title:      title,
		Summary:    opts.Summary,
		Reasoning:  opts.Reasoning,
		Confidence: opts.Confidence,
		EntityType: opts.Operations[0].EntityType,
		TargetID:   opts.Operations[0].EntityID,
		Operations: opts.Operations,
		Author:     opts.Author,
		CreatedAt:  e.now(),
	}
	if err := e.Repo.InsertProposal(ctx, p); err != nil {
		return domain.Proposal{}, err
	}
	return p, nil
}

// Approve applies a PENDING proposal. Entity writes, audit records, timeline
// entries and the status flip all commit in one transaction or not at all.
// The audit actor is the approving user; the timeline actor is the proposal's
// original author. The reviewer needs review permission plus the permission
// for every operation the proposal carries, same as if they had drafted it.
func (e Engine) Approve(ctx context.Context, orgID, proposalID string, reviewer domain.Actor) (domain.Proposal, []domain.EntityRef, error) {
	if !reviewer.IsUser() {
		return domain.Proposal{}, nil, ErrReviewerNotUser
	}
	if err := e.Auth.Require(ctx, orgID, reviewer.ID, auth.Perm("review", domain.EntityProposal)); err != nil {
		return domain.Proposal{}, nil, err
	}
	pending, err := e.Repo.GetProposal(ctx, orgID, proposalID)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	for _, op := range pending.Operations {
		if err := e.Auth.Require(ctx, orgID, reviewer.ID, auth.Perm(op.Verb, op.EntityType)); err != nil {
			return domain.Proposal{}, nil, err
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, orgID, proposalID)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	if p.Status != domain.ProposalPending {
		return domain.Proposal{}, nil, repo.ErrAlreadyResolved
	}

	now := e.now()
	var refs []domain.EntityRef
	for _, op := range p.Operations {
		if verr := ValidateOperation(op); verr != nil {
			return domain.Proposal{}, nil, fmt.Errorf("operation %s %s no longer valid: %w", op.Verb, op.EntityType, verr)
		}
		ref, before, after, propertyID, summary, err := e.applyOp(ctx, tx, orgID, op, p.Author, now)
		if err != nil {
			return domain.Proposal{}, nil, err
		}
		action := domain.AuditCreate
		if op.Verb == domain.VerbUpdate {
			action = domain.AuditUpdate
		}
		if err := e.Repo.AppendAuditTx(ctx, tx, domain.AuditRecord{
			OrgID:      orgID,
			Actor:      &reviewer,
			Action:     action,
			EntityType: ref.EntityType,
			EntityID:   ref.EntityID,
			Before:     before,
			After:      after,
			CreatedAt:  now,
		}); err != nil {
			return domain.Proposal{}, nil, err
		}
		if err := e.Repo.AppendTimelineTx(ctx, tx, domain.TimelineEntry{
			OrgID:      orgID,
			PropertyID: propertyID,
			EntityType: ref.EntityType,
			EntityID:   ref.EntityID,
			Actor:      p.Author,
			ProposalID: &p.ID,
			Summary:    summary,
			CreatedAt:  now,
		}); err != nil {
			return domain.Proposal{}, nil, err
		}
		refs = append(refs, ref)
	}

	if err := e.Repo.MarkAppliedTx(ctx, tx, orgID, p.ID, reviewer.ID, now); err != nil {
		return domain.Proposal{}, nil, err
	}
	if err := e.appendStatusAudit(ctx, tx, orgID, p.ID, &reviewer, domain.ProposalPending, domain.ProposalApplied, now); err != nil {
		return domain.Proposal{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, nil, err
	}

	applied, err := e.Repo.GetProposal(ctx, orgID, p.ID)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	return applied, refs, nil
}

// Reject resolves a PENDING proposal without touching any entity. The reason,
// when given, is appended to the proposal summary so reviewers see it later.
func (e Engine) Reject(ctx context.Context, orgID, proposalID string, reviewer domain.Actor, reason string) (domain.Proposal, error) {
	if !reviewer.IsUser() {
		return domain.Proposal{}, ErrReviewerNotUser
	}
	if err := e.Auth.Require(ctx, orgID, reviewer.ID, auth.Perm("review", domain.EntityProposal)); err != nil {
		return domain.Proposal{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Proposal{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProposalTx(ctx, tx, orgID, proposalID); err != nil {
		return domain.Proposal{}, err
	}
	now := e.now()
	if err := e.Repo.MarkRejectedTx(ctx, tx, orgID, proposalID, reviewer.ID, reason, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := e.appendStatusAudit(ctx, tx, orgID, proposalID, &reviewer, domain.ProposalPending, domain.ProposalRejected, now); err != nil {
		return domain.Proposal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Proposal{}, err
	}
	return e.Repo.GetProposal(ctx, orgID, proposalID)
}

func (e Engine) appendStatusAudit(ctx context.Context, tx *sql.Tx, orgID, proposalID string, actor *domain.Actor, from, to, now string) error {
	before := fmt.Sprintf(`{"status":%q}`, from)
	after := fmt.Sprintf(`{"status":%q}`, to)
	return e.Repo.AppendAuditTx(ctx, tx, domain.AuditRecord{
		OrgID:      orgID,
		Actor:      actor,
		Action:     domain.AuditUpdate,
		EntityType: domain.EntityProposal,
		EntityID:   proposalID,
		Before:     &before,
		After:      &after,
		CreatedAt:  now,
	})
}

// OpPreview predicts what one operation would change if applied now.
type OpPreview struct {
	Operation domain.Operation `json:"operation"`
	Changes   []audit.Change   `json:"changes"`
	// TargetMissing marks an update whose target has vanished since the
	// proposal was drafted; applying it would fail.
	TargetMissing bool `json:"target_missing,omitempty"`
}

// Preview computes the predicted diff for every operation in a proposal
// without writing anything.
func (e Engine) Preview(ctx context.Context, orgID, proposalID, callerUserID string) (domain.Proposal, []OpPreview, error) {
	if err := e.Auth.Require(ctx, orgID, callerUserID, auth.Perm("read", domain.EntityProposal)); err != nil {
		return domain.Proposal{}, nil, err
	}
	p, err := e.Repo.GetProposal(ctx, orgID, proposalID)
	if err != nil {
		return domain.Proposal{}, nil, err
	}
	previews := make([]OpPreview, 0, len(p.Operations))
	for _, op := range p.Operations {
		pv := OpPreview{Operation: op}
		opData, err := json.Marshal(op.Data)
		if err != nil {
			return domain.Proposal{}, nil, err
		}
		after := string(opData)
		switch op.Verb {
		case domain.VerbCreate:
			pv.Changes, err = audit.Diff(nil, &after)
		case domain.VerbUpdate:
			var current string
			current, err = e.currentEntityJSON(ctx, orgID, op.EntityType, *op.EntityID)
			if errors.Is(err, repo.ErrNotFound) {
				pv.TargetMissing = true
				pv.Changes, err = audit.Diff(nil, &after)
			} else if err == nil {
				pv.Changes, err = audit.Diff(&current, &after)
			}
		}
		if err != nil {
			return domain.Proposal{}, nil, err
		}
		previews = append(previews, pv)
	}
	return p, previews, nil
}

func (e Engine) currentEntityJSON(ctx context.Context, orgID, entityType, id string) (string, error) {
	var v any
	var err error
	switch entityType {
	case domain.EntityMaintenance:
		v, err = e.Repo.GetMaintenance(ctx, orgID, id)
	case domain.EntityProperty:
		v, err = e.Repo.GetProperty(ctx, orgID, id)
	case domain.EntityLease:
		v, err = e.Repo.GetLease(ctx, orgID, id)
	default:
		return "", fmt.Errorf("entity type %s has no stored form", entityType)
	}
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// resolveRefs checks every entity reference in an operation against the org.
// A nil tx reads from the pool (draft-time check); apply passes its own tx so
// the check and the write see the same snapshot.
func (e Engine) resolveRefs(ctx context.Context, tx *sql.Tx, orgID string, op domain.Operation) *ValidationError {
	get := func(kind, id string) error {
		var err error
		switch kind {
		case domain.EntityProperty:
			if tx != nil {
				_, err = e.Repo.GetPropertyTx(ctx, tx, orgID, id)
			} else {
				_, err = e.Repo.GetProperty(ctx, orgID, id)
			}
		case domain.EntityAsset:
			if tx != nil {
				_, err = e.Repo.GetAssetTx(ctx, tx, orgID, id)
			} else {
				_, err = e.Repo.GetAsset(ctx, orgID, id)
			}
		case domain.EntityVendor:
			if tx != nil {
				_, err = e.Repo.GetVendorTx(ctx, tx, orgID, id)
			} else {
				_, err = e.Repo.GetVendor(ctx, orgID, id)
			}
		case domain.EntityLease:
			if tx != nil {
				_, err = e.Repo.GetLeaseTx(ctx, tx, orgID, id)
			} else {
				_, err = e.Repo.GetLease(ctx, orgID, id)
			}
		case domain.EntityMaintenance:
			if tx != nil {
				_, err = e.Repo.GetMaintenanceTx(ctx, tx, orgID, id)
			} else {
				_, err = e.Repo.GetMaintenance(ctx, orgID, id)
			}
		}
		return err
	}
	check := func(field, kind, id string) *ValidationError {
		if id == "" {
			return nil
		}
		if err := get(kind, id); err != nil {
			return invalid(field, fmt.Sprintf("%s %s not found in organization", kind, id))
		}
		return nil
	}
	checkPtr := func(field, kind string, id *string) *ValidationError {
		if id == nil {
			return nil
		}
		return check(field, kind, *id)
	}

	if op.Verb == domain.VerbUpdate {
		if verr := check("entity_id", op.EntityType, *op.EntityID); verr != nil {
			return verr
		}
	}
	switch op.EntityType {
	case domain.EntityAsset:
		var p CreateAssetPayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		return check("property_id", domain.EntityProperty, p.PropertyID)
	case domain.EntityMaintenance:
		if op.Verb == domain.VerbCreate {
			var p CreateMaintenancePayload
			if verr := decodeStrict(op.Data, &p); verr != nil {
				return verr
			}
			if verr := check("property_id", domain.EntityProperty, p.PropertyID); verr != nil {
				return verr
			}
			if verr := checkPtr("asset_id", domain.EntityAsset, p.AssetID); verr != nil {
				return verr
			}
			return checkPtr("vendor_id", domain.EntityVendor, p.VendorID)
		}
		var p UpdateMaintenancePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		if verr := checkPtr("asset_id", domain.EntityAsset, p.AssetID); verr != nil {
			return verr
		}
		return checkPtr("vendor_id", domain.EntityVendor, p.VendorID)
	case domain.EntityLease:
		var p CreateLeasePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		return check("property_id", domain.EntityProperty, p.PropertyID)
	case domain.EntityNote:
		var p CreateNotePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		return checkPtr("property_id", domain.EntityProperty, p.PropertyID)
	case domain.EntityDocument:
		var p CreateDocumentPayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		return checkPtr("property_id", domain.EntityProperty, p.PropertyID)
	case domain.EntityFinance:
		var p CreateFinancePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return verr
		}
		if verr := checkPtr("property_id", domain.EntityProperty, p.PropertyID); verr != nil {
			return verr
		}
		return checkPtr("lease_id", domain.EntityLease, p.LeaseID)
	}
	return nil
}
