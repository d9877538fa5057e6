package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"steward/internal/domain"
)

// ValidationError pins a rejected payload to one field. It crosses the wire
// as JSON-RPC error data, so both fields stay machine-readable.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Payload types are deliberately closed: decodeStrict rejects any key that is
// not listed here, so a proposal can never smuggle columns past review.

type CreatePropertyPayload struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
	Kind    string `json:"kind"`
	Status  string `json:"status,omitempty"`
}

type CreateAssetPayload struct {
	PropertyID   string  `json:"property_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	InstalledAt  *string `json:"installed_at,omitempty"`
}

type CreateMaintenancePayload struct {
	PropertyID  string   `json:"property_id"`
	AssetID     *string  `json:"asset_id,omitempty"`
	VendorID    *string  `json:"vendor_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	ScheduledAt *string  `json:"scheduled_at,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
}

// UpdateMaintenancePayload carries only the fields the update touches; nil
// pointers mean "leave as is".
type UpdateMaintenancePayload struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *string  `json:"status,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	AssetID     *string  `json:"asset_id,omitempty"`
	VendorID    *string  `json:"vendor_id,omitempty"`
	ScheduledAt *string  `json:"scheduled_at,omitempty"`
	CompletedAt *string  `json:"completed_at,omitempty"`
	Cost        *float64 `json:"cost,omitempty"`
}

type CreateNotePayload struct {
	PropertyID *string `json:"property_id,omitempty"`
	Body       string  `json:"body"`
}

type CreateDocumentPayload struct {
	PropertyID  *string `json:"property_id,omitempty"`
	Title       string  `json:"title"`
	Kind        string  `json:"kind,omitempty"`
	StorageKey  string  `json:"storage_key"`
	ContentType string  `json:"content_type,omitempty"`
}

type CreateLeasePayload struct {
	PropertyID string  `json:"property_id"`
	TenantName string  `json:"tenant_name"`
	StartsOn   string  `json:"starts_on"`
	EndsOn     *string `json:"ends_on,omitempty"`
	RentAmount float64 `json:"rent_amount"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status,omitempty"`
}

type CreateFinancePayload struct {
	PropertyID *string `json:"property_id,omitempty"`
	LeaseID    *string `json:"lease_id,omitempty"`
	Direction  string  `json:"direction"`
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	OccurredOn string  `json:"occurred_on"`
	Memo       string  `json:"memo,omitempty"`
}

func decodeStrict(data map[string]any, dst any) *ValidationError {
	raw, err := json.Marshal(data)
	if err != nil {
		return invalid("data", "not valid JSON")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := err.Error()
		if i := strings.Index(msg, `unknown field "`); i >= 0 {
			field := msg[i+len(`unknown field "`):]
			field = strings.TrimSuffix(field, `"`)
			return invalid(field, "unknown field")
		}
		if ute, ok := err.(*json.UnmarshalTypeError); ok {
			return invalid(ute.Field, "wrong type, expected "+ute.Type.String())
		}
		return invalid("data", msg)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func validTimestamp(v string) bool {
	_, err := time.Parse(time.RFC3339, v)
	return err == nil
}

func validDate(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

func validCurrency(v string) bool {
	if len(v) != 3 {
		return false
	}
	for _, c := range v {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

type opKey struct {
	verb       string
	entityType string
}

// validators is built once and never mutated after init.
var validators = map[opKey]func(domain.Operation) *ValidationError{
	{domain.VerbCreate, domain.EntityProperty}:    validateCreateProperty,
	{domain.VerbCreate, domain.EntityAsset}:       validateCreateAsset,
	{domain.VerbCreate, domain.EntityMaintenance}: validateCreateMaintenance,
	{domain.VerbUpdate, domain.EntityMaintenance}: validateUpdateMaintenance,
	{domain.VerbCreate, domain.EntityNote}:        validateCreateNote,
	{domain.VerbCreate, domain.EntityDocument}:    validateCreateDocument,
	{domain.VerbCreate, domain.EntityLease}:       validateCreateLease,
	{domain.VerbCreate, domain.EntityFinance}:     validateCreateFinance,
}

// Supported reports whether the (verb, entity type) pair has a payload type.
func Supported(verb, entityType string) bool {
	_, ok := validators[opKey{verb, entityType}]
	return ok
}

// ValidateOperation checks one operation against its closed payload type.
// It runs at proposal creation and again, authoritatively, at apply time.
func ValidateOperation(op domain.Operation) *ValidationError {
	fn, ok := validators[opKey{op.Verb, op.EntityType}]
	if !ok {
		return invalid("entity_type", fmt.Sprintf("operation %s %s is not supported", op.Verb, op.EntityType))
	}
	switch op.Verb {
	case domain.VerbCreate:
		if op.EntityID != nil {
			return invalid("entity_id", "must be absent for create")
		}
	case domain.VerbUpdate:
		if op.EntityID == nil || *op.EntityID == "" {
			return invalid("entity_id", "required for update")
		}
	}
	if op.Data == nil {
		return invalid("data", "required")
	}
	return fn(op)
}

func validateCreateProperty(op domain.Operation) *ValidationError {
	var p CreatePropertyPayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if !oneOf(p.Kind, "residential", "commercial", "mixed", "land") {
		return invalid("kind", "must be one of residential, commercial, mixed, land")
	}
	if p.Status != "" && !oneOf(p.Status, "active", "archived") {
		return invalid("status", "must be active or archived")
	}
	return nil
}

func validateCreateAsset(op domain.Operation) *ValidationError {
	var p CreateAssetPayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if p.PropertyID == "" {
		return invalid("property_id", "required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if p.InstalledAt != nil && !validTimestamp(*p.InstalledAt) {
		return invalid("installed_at", "must be RFC 3339")
	}
	return nil
}

func validateCreateMaintenance(op domain.Operation) *ValidationError {
	var p CreateMaintenancePayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if p.PropertyID == "" {
		return invalid("property_id", "required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title", "required")
	}
	if p.Status != "" && !oneOf(p.Status, "open", "scheduled", "in_progress", "completed", "canceled") {
		return invalid("status", "must be one of open, scheduled, in_progress, completed, canceled")
	}
	if p.Priority != "" && !oneOf(p.Priority, "low", "medium", "high", "urgent") {
		return invalid("priority", "must be one of low, medium, high, urgent")
	}
	if p.ScheduledAt != nil && !validTimestamp(*p.ScheduledAt) {
		return invalid("scheduled_at", "must be RFC 3339")
	}
	if p.Cost != nil && *p.Cost < 0 {
		return invalid("cost", "must not be negative")
	}
	return nil
}

func validateUpdateMaintenance(op domain.Operation) *ValidationError {
	var p UpdateMaintenancePayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.AssetID == nil && p.VendorID == nil && p.ScheduledAt == nil && p.CompletedAt == nil && p.Cost == nil {
		return invalid("data", "update must change at least one field")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return invalid("title", "must not be empty")
	}
	if p.Status != nil && !oneOf(*p.Status, "open", "scheduled", "in_progress", "completed", "canceled") {
		return invalid("status", "must be one of open, scheduled, in_progress, completed, canceled")
	}
	if p.Priority != nil && !oneOf(*p.Priority, "low", "medium", "high", "urgent") {
		return invalid("priority", "must be one of low, medium, high, urgent")
	}
	if p.ScheduledAt != nil && !validTimestamp(*p.ScheduledAt) {
		return invalid("scheduled_at", "must be RFC 3339")
	}
	if p.CompletedAt != nil && !validTimestamp(*p.CompletedAt) {
		return invalid("completed_at", "must be RFC 3339")
	}
	if p.Cost != nil && *p.Cost < 0 {
		return invalid("cost", "must not be negative")
	}
	return nil
}

func validateCreateNote(op domain.Operation) *ValidationError {
	var p CreateNotePayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if strings.TrimSpace(p.Body) == "" {
		return invalid("body", "required")
	}
	return nil
}

func validateCreateDocument(op domain.Operation) *ValidationError {
	var p CreateDocumentPayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if strings.TrimSpace(p.Title) == "" {
		return invalid("title", "required")
	}
	if p.StorageKey == "" {
		return invalid("storage_key", "required")
	}
	if p.Kind != "" && !oneOf(p.Kind, "contract", "invoice", "report", "photo", "other") {
		return invalid("kind", "must be one of contract, invoice, report, photo, other")
	}
	return nil
}

func validateCreateLease(op domain.Operation) *ValidationError {
	var p CreateLeasePayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if p.PropertyID == "" {
		return invalid("property_id", "required")
	}
	if strings.TrimSpace(p.TenantName) == "" {
		return invalid("tenant_name", "required")
	}
	if !validDate(p.StartsOn) {
		return invalid("starts_on", "must be a YYYY-MM-DD date")
	}
	if p.EndsOn != nil {
		if !validDate(*p.EndsOn) {
			return invalid("ends_on", "must be a YYYY-MM-DD date")
		}
		if *p.EndsOn < p.StartsOn {
			return invalid("ends_on", "must not precede starts_on")
		}
	}
	if p.RentAmount <= 0 {
		return invalid("rent_amount", "must be positive")
	}
	if !validCurrency(p.Currency) {
		return invalid("currency", "must be a 3-letter ISO 4217 code")
	}
	if p.Status != "" && !oneOf(p.Status, "active", "ended", "terminated") {
		return invalid("status", "must be one of active, ended, terminated")
	}
	return nil
}

func validateCreateFinance(op domain.Operation) *ValidationError {
	var p CreateFinancePayload
	if verr := decodeStrict(op.Data, &p); verr != nil {
		return verr
	}
	if !oneOf(p.Direction, "income", "expense") {
		return invalid("direction", "must be income or expense")
	}
	if strings.TrimSpace(p.Category) == "" {
		return invalid("category", "required")
	}
	if p.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if !validCurrency(p.Currency) {
		return invalid("currency", "must be a 3-letter ISO 4217 code")
	}
	if !validDate(p.OccurredOn) {
		return invalid("occurred_on", "must be a YYYY-MM-DD date")
	}
	return nil
}
