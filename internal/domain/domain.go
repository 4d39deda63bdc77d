package domain

// Lead statuses. Status is derived from (stage, sub_status) on every
// transition and never set independently.
const (
	StatusActive      = "Active"
	StatusHold        = "Hold"
	StatusDropped     = "Dropped"
	StatusOperational = "Operational"
	StatusApproved    = "Approved"
	StatusRejected    = "Rejected"
)

// Ledger entry statuses.
const (
	LedgerApproved = "Approved"
	LedgerRejected = "Rejected"
)

// RoleAdmin bypasses active-role checks everywhere.
const RoleAdmin = "Admin"

type Lead struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Stage       string `json:"stage"`
	SubStatus   string `json:"sub_status"`
	Status      string `json:"status" enum:"Active,Hold,Dropped,Operational,Approved,Rejected"`
	CurrentStep int    `json:"current_step"`
	Version     int64  `json:"version"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`

	Ledger []LedgerEntry `json:"ledger,omitempty"`
}

// LeadSummary is the list-view projection of a Lead.
type LeadSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Stage     string `json:"stage"`
	SubStatus string `json:"sub_status"`
	Status    string `json:"status"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LedgerEntry is one immutable history record owned by a Lead. StepMarker
// is the legacy numeric step for linear-mode submissions and 0 for
// graph-mode transitions.
type LedgerEntry struct {
	ID              string  `json:"id"`
	LeadID          string  `json:"lead_id"`
	StepMarker      int     `json:"step_marker"`
	TargetStage     string  `json:"target_stage,omitempty"`
	TargetSubStatus string  `json:"target_sub_status,omitempty"`
	DataJSON        *string `json:"data_json,omitempty"`
	Status          string  `json:"status" enum:"Approved,Rejected"`
	Remarks         string  `json:"remarks,omitempty"`
	SubmittedBy     string  `json:"submitted_by"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	LeadID     string `json:"lead_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
