package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"steward/internal/domain"
)

// applyOp writes one operation inside the apply transaction and returns the
// entity ref, the audit before/after images, the property the timeline entry
// hangs off, and the timeline summary. References are re-resolved here
// against the transaction snapshot; the draft-time check is only advisory.
func (e Engine) applyOp(ctx context.Context, tx *sql.Tx, orgID string, op domain.Operation, author domain.Actor, now string) (domain.EntityRef, *string, *string, *string, string, error) {
	fail := func(err error) (domain.EntityRef, *string, *string, *string, string, error) {
		return domain.EntityRef{}, nil, nil, nil, "", err
	}
	if verr := e.resolveRefs(ctx, tx, orgID, op); verr != nil {
		return fail(verr)
	}

	switch {
	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityProperty:
		var p CreatePropertyPayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		if p.Status == "" {
			p.Status = "active"
		}
		prop := domain.Property{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			Name:      p.Name,
			Address:   p.Address,
			City:      p.City,
			Country:   p.Country,
			Kind:      p.Kind,
			Status:    p.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertPropertyTx(ctx, tx, prop); err != nil {
			return fail(err)
		}
		after, err := afterImage(prop)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityProperty, EntityID: prop.ID, Verb: op.Verb}
		return ref, nil, after, &prop.ID, fmt.Sprintf("Added property %q", prop.Name), nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityAsset:
		var p CreateAssetPayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		a := domain.Asset{
			ID:           uuid.NewString(),
			OrgID:        orgID,
			PropertyID:   p.PropertyID,
			Name:         p.Name,
			Category:     p.Category,
			Manufacturer: p.Manufacturer,
			Model:        p.Model,
			SerialNumber: p.SerialNumber,
			InstalledAt:  p.InstalledAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertAssetTx(ctx, tx, a); err != nil {
			return fail(err)
		}
		after, err := afterImage(a)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityAsset, EntityID: a.ID, Verb: op.Verb}
		return ref, nil, after, &a.PropertyID, fmt.Sprintf("Added asset %q", a.Name), nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityMaintenance:
		var p CreateMaintenancePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		if p.Status == "" {
			p.Status = "open"
		}
		m := domain.MaintenanceEvent{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			PropertyID:  p.PropertyID,
			AssetID:     p.AssetID,
			VendorID:    p.VendorID,
			Title:       p.Title,
			Description: p.Description,
			Status:      p.Status,
			Priority:    p.Priority,
			ScheduledAt: p.ScheduledAt,
			Cost:        p.Cost,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertMaintenanceTx(ctx, tx, m); err != nil {
			return fail(err)
		}
		after, err := afterImage(m)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityMaintenance, EntityID: m.ID, Verb: op.Verb}
		return ref, nil, after, &m.PropertyID, fmt.Sprintf("Logged maintenance %q", m.Title), nil

	case op.Verb == domain.VerbUpdate && op.EntityType == domain.EntityMaintenance:
		var p UpdateMaintenancePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		m, err := e.Repo.GetMaintenanceTx(ctx, tx, orgID, *op.EntityID)
		if err != nil {
			return fail(err)
		}
		before, err := afterImage(m)
		if err != nil {
			return fail(err)
		}
		if p.Title != nil {
			m.Title = *p.Title
		}
		if p.Description != nil {
			m.Description = *p.Description
		}
		if p.Status != nil {
			m.Status = *p.Status
		}
		if p.Priority != nil {
			m.Priority = *p.Priority
		}
		if p.AssetID != nil {
			m.AssetID = p.AssetID
		}
		if p.VendorID != nil {
			m.VendorID = p.VendorID
		}
		if p.ScheduledAt != nil {
			m.ScheduledAt = p.ScheduledAt
		}
		if p.CompletedAt != nil {
			m.CompletedAt = p.CompletedAt
		}
		if p.Cost != nil {
			m.Cost = p.Cost
		}
		m.UpdatedAt = now
		if err := e.Repo.UpdateMaintenanceTx(ctx, tx, m); err != nil {
			return fail(err)
		}
		after, err := afterImage(m)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityMaintenance, EntityID: m.ID, Verb: op.Verb}
		return ref, before, after, &m.PropertyID, fmt.Sprintf("Updated maintenance %q", m.Title), nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityNote:
		var p CreateNotePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		n := domain.Note{
			ID:         uuid.NewString(),
			OrgID:      orgID,
			PropertyID: p.PropertyID,
			Body:       p.Body,
			Author:     author,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertNoteTx(ctx, tx, n); err != nil {
			return fail(err)
		}
		after, err := afterImage(n)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityNote, EntityID: n.ID, Verb: op.Verb}
		return ref, nil, after, n.PropertyID, "Added a note", nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityDocument:
		var p CreateDocumentPayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		d := domain.Document{
			ID:          uuid.NewString(),
			OrgID:       orgID,
			PropertyID:  p.PropertyID,
			Title:       p.Title,
			Kind:        p.Kind,
			StorageKey:  p.StorageKey,
			ContentType: p.ContentType,
			CreatedAt:   now,
		}
		if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
			return fail(err)
		}
		after, err := afterImage(d)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityDocument, EntityID: d.ID, Verb: op.Verb}
		return ref, nil, after, d.PropertyID, fmt.Sprintf("Filed document %q", d.Title), nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityLease:
		var p CreateLeasePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		if p.Status == "" {
			p.Status = "active"
		}
		l := domain.Lease{
			ID:         uuid.NewString(),
			OrgID:      orgID,
			PropertyID: p.PropertyID,
			TenantName: p.TenantName,
			StartsOn:   p.StartsOn,
			EndsOn:     p.EndsOn,
			RentAmount: p.RentAmount,
			Currency:   p.Currency,
			Status:     p.Status,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.Repo.InsertLeaseTx(ctx, tx, l); err != nil {
			return fail(err)
		}
		after, err := afterImage(l)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityLease, EntityID: l.ID, Verb: op.Verb}
		return ref, nil, after, &l.PropertyID, fmt.Sprintf("Recorded lease for %s", l.TenantName), nil

	case op.Verb == domain.VerbCreate && op.EntityType == domain.EntityFinance:
		var p CreateFinancePayload
		if verr := decodeStrict(op.Data, &p); verr != nil {
			return fail(verr)
		}
		f := domain.FinanceEntry{
			ID:         uuid.NewString(),
			OrgID:      orgID,
			PropertyID: p.PropertyID,
			LeaseID:    p.LeaseID,
			Direction:  p.Direction,
			Category:   p.Category,
			Amount:     p.Amount,
			Currency:   p.Currency,
			OccurredOn: p.OccurredOn,
			Memo:       p.Memo,
			CreatedAt:  now,
		}
		if err := e.Repo.InsertFinanceTx(ctx, tx, f); err != nil {
			return fail(err)
		}
		after, err := afterImage(f)
		if err != nil {
			return fail(err)
		}
		ref := domain.EntityRef{EntityType: domain.EntityFinance, EntityID: f.ID, Verb: op.Verb}
		return ref, nil, after, f.PropertyID, fmt.Sprintf("Recorded %s %s %.2f %s", f.Direction, f.Category, f.Amount, f.Currency), nil
	}

	return fail(fmt.Errorf("operation %s %s is not supported", op.Verb, op.EntityType))
}

func afterImage(v any) (*string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
