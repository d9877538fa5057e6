package engine

import (
	"testing"

	"steward/internal/domain"
)

func op(verb, entityType string, entityID *string, data map[string]any) domain.Operation {
	return domain.Operation{Verb: verb, EntityType: entityType, EntityID: entityID, Data: data}
}

func TestSupportedPairs(t *testing.T) {
	if !Supported(domain.VerbCreate, domain.EntityProperty) {
		t.Fatal("create property should be supported")
	}
	if !Supported(domain.VerbUpdate, domain.EntityMaintenance) {
		t.Fatal("update maintenance should be supported")
	}
	if Supported(domain.VerbUpdate, domain.EntityProperty) {
		t.Fatal("update property is not in the catalog")
	}
	if Supported("delete", domain.EntityNote) {
		t.Fatal("delete is not a verb")
	}
}

func TestValidateOperationEntityIDRules(t *testing.T) {
	id := "x"
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityNote, &id, map[string]any{"body": "hi"})); verr == nil || verr.Field != "entity_id" {
		t.Fatalf("create with entity_id: %v", verr)
	}
	if verr := ValidateOperation(op(domain.VerbUpdate, domain.EntityMaintenance, nil, map[string]any{"status": "open"})); verr == nil || verr.Field != "entity_id" {
		t.Fatalf("update without entity_id: %v", verr)
	}
}

func TestValidateLease(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"property_id": "p1",
			"tenant_name": "Ada",
			"starts_on":   "2024-03-01",
			"rent_amount": 950.0,
			"currency":    "EUR",
		}
	}
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityLease, nil, base())); verr != nil {
		t.Fatalf("valid lease rejected: %v", verr)
	}

	d := base()
	d["currency"] = "euro"
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityLease, nil, d)); verr == nil || verr.Field != "currency" {
		t.Fatalf("currency: %v", verr)
	}

	d = base()
	d["ends_on"] = "2024-02-01"
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityLease, nil, d)); verr == nil || verr.Field != "ends_on" {
		t.Fatalf("ends before starts: %v", verr)
	}

	d = base()
	d["rent_amount"] = -5.0
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityLease, nil, d)); verr == nil || verr.Field != "rent_amount" {
		t.Fatalf("negative rent: %v", verr)
	}
}

func TestValidateUpdateMaintenanceNoop(t *testing.T) {
	id := "m1"
	if verr := ValidateOperation(op(domain.VerbUpdate, domain.EntityMaintenance, &id, map[string]any{})); verr == nil || verr.Field != "data" {
		t.Fatalf("empty update: %v", verr)
	}
	if verr := ValidateOperation(op(domain.VerbUpdate, domain.EntityMaintenance, &id, map[string]any{"status": "resolved"})); verr == nil || verr.Field != "status" {
		t.Fatalf("bad status enum: %v", verr)
	}
}

func TestValidateFinance(t *testing.T) {
	good := map[string]any{
		"direction":   "expense",
		"category":    "repairs",
		"amount":      125.0,
		"currency":    "USD",
		"occurred_on": "2024-04-10",
	}
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityFinance, nil, good)); verr != nil {
		t.Fatalf("valid finance rejected: %v", verr)
	}
	bad := map[string]any{
		"direction":   "sideways",
		"category":    "repairs",
		"amount":      125.0,
		"currency":    "USD",
		"occurred_on": "2024-04-10",
	}
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityFinance, nil, bad)); verr == nil || verr.Field != "direction" {
		t.Fatalf("direction: %v", verr)
	}
}

func TestStrictDecodeRejectsWrongTypes(t *testing.T) {
	verr := ValidateOperation(op(domain.VerbCreate, domain.EntityProperty, nil, map[string]any{
		"name": 42,
		"kind": "land",
	}))
	if verr == nil {
		t.Fatal("expected type error")
	}
	if verr.Field != "name" {
		t.Fatalf("field = %s", verr.Field)
	}
}

func TestValidateDocument(t *testing.T) {
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityDocument, nil, map[string]any{
		"title":       "Lease scan",
		"storage_key": "docs/abc",
		"kind":        "contract",
	})); verr != nil {
		t.Fatalf("valid document rejected: %v", verr)
	}
	if verr := ValidateOperation(op(domain.VerbCreate, domain.EntityDocument, nil, map[string]any{
		"title": "Lease scan",
	})); verr == nil || verr.Field != "storage_key" {
		t.Fatalf("storage_key: %v", verr)
	}
}
