package domain

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membership struct {
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Property struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	Country   string `json:"country,omitempty"`
	Kind      string `json:"kind" enum:"residential,commercial,mixed,land"`
	Status    string `json:"status" enum:"active,archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Asset struct {
	ID           string  `json:"id"`
	OrgID        string  `json:"org_id"`
	PropertyID   string  `json:"property_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Model        string  `json:"model,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	InstalledAt  *string `json:"installed_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Vendor struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Trade     string `json:"trade,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Lease struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	PropertyID string  `json:"property_id"`
	TenantName string  `json:"tenant_name"`
	StartsOn   string  `json:"starts_on"`
	EndsOn     *string `json:"ends_on,omitempty"`
	RentAmount float64 `json:"rent_amount"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status" enum:"active,ended,terminated"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type MaintenanceEvent struct {
	ID          string   `json:"id"`
	OrgID       string   `json:"org_id"`
	PropertyID  string   `json:"property_id"`
	AssetID     *string  `json:"asset_id,omitempty"`
	VendorID    *string  `json:"vendor_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status" enum:"open,scheduled,in_progress,completed,canceled"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	ScheduledAt *string  `json:"scheduled_at,omitempty" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
	Cost        *float64 `json:"cost,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Document struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	PropertyID  *string `json:"property_id,omitempty"`
	Title       string  `json:"title"`
	Kind        string  `json:"kind,omitempty" enum:"contract,invoice,report,photo,other"`
	StorageKey  string  `json:"storage_key"`
	ContentType string  `json:"content_type,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type FinanceEntry struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	PropertyID *string `json:"property_id,omitempty"`
	LeaseID    *string `json:"lease_id,omitempty"`
	Direction  string  `json:"direction" enum:"income,expense"`
	Category   string  `json:"category"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	OccurredOn string  `json:"occurred_on"`
	Memo       string  `json:"memo,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Note struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	PropertyID *string `json:"property_id,omitempty"`
	Body       string  `json:"body"`
	Author     Actor   `json:"author"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// Proposal statuses. APPROVED is part of the wire enum but never observable at
// rest: approval commits straight through to APPLIED in one transaction.
const (
	ProposalPending  = "PENDING"
	ProposalApproved = "APPROVED"
	ProposalRejected = "REJECTED"
	ProposalApplied  = "APPLIED"
)

// Operation verbs.
const (
	VerbCreate = "create"
	VerbUpdate = "update"
)

// Entity type tags used in operations, audit records and timeline entries.
const (
	EntityProperty    = "property"
	EntityAsset       = "asset"
	EntityVendor      = "vendor"
	EntityLease       = "lease"
	EntityMaintenance = "maintenance"
	EntityDocument    = "document"
	EntityFinance     = "finance"
	EntityNote        = "note"
	EntityProposal    = "proposal"
)

// Operation is one declarative mutation inside a proposal. Data is validated
// against the closed payload type for (Verb, EntityType) when the proposal is
// created and again when it is applied.
type Operation struct {
	Verb       string         `json:"verb" enum:"create,update"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id,omitempty"`
	Data       map[string]any `json:"data"`
}

// Proposal is a pending or resolved unit of change. Operations are immutable
// once persisted; status only ever moves PENDING -> APPLIED or
// PENDING -> REJECTED.
type Proposal struct {
	ID         string      `json:"id"`
	OrgID      string      `json:"org_id"`
	Status     string      `json:"status" enum:"PENDING,APPROVED,REJECTED,APPLIED"`
	Title      string      `json:"title"`
	Summary    string      `json:"summary,omitempty"`
	Reasoning  string      `json:"reasoning"`
	Confidence *float64    `json:"confidence,omitempty"`
	EntityType string      `json:"entity_type"`
	TargetID   *string     `json:"target_id,omitempty"`
	Operations []Operation `json:"operations"`
	Author     Actor       `json:"author"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
	ReviewerID *string     `json:"reviewer_id,omitempty"`
	ReviewedAt *string     `json:"reviewed_at,omitempty" format:"date-time"`
	AppliedAt  *string     `json:"applied_at,omitempty" format:"date-time"`
}

// Audit actions.
const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"
)

// AuditRecord is append-only: never mutated or deleted.
type AuditRecord struct {
	ID         int64   `json:"id"`
	OrgID      string  `json:"org_id"`
	Actor      *Actor  `json:"actor,omitempty"`
	Action     string  `json:"action" enum:"CREATE,UPDATE,DELETE"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Before     *string `json:"before,omitempty"`
	After      *string `json:"after,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// TimelineEntry is a human-facing narrative event. The actor credited here is
// the proposal's original author, not whoever approved it.
type TimelineEntry struct {
	ID         int64   `json:"id"`
	OrgID      string  `json:"org_id"`
	PropertyID *string `json:"property_id,omitempty"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	Actor      Actor   `json:"actor"`
	ProposalID *string `json:"proposal_id,omitempty"`
	Summary    string  `json:"summary"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	CallerID  string `json:"caller_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ToolInvocation is best-effort telemetry for one gateway call.
type ToolInvocation struct {
	ID         int64  `json:"id"`
	Method     string `json:"method"`
	Tool       string `json:"tool,omitempty"`
	CallerKind string `json:"caller_kind"`
	CallerID   string `json:"caller_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Outcome    string `json:"outcome"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// EntityRef identifies one entity written by an apply.
type EntityRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Verb       string `json:"verb" enum:"create,update"`
}
