// Package journey defines the patient journey record and its derived KPI columns.
// One Record per (patient, enrollment); derived columns are pure functions of the
// raw milestone timestamps and an explicit reference date.
package journey

import "time"

// PAOutcome is the enumerated prior-authorization outcome reported by the hub.
type PAOutcome string

const (
	PAOutcomeApproved PAOutcome = "APPROVED"
	PAOutcomeDenied   PAOutcome = "DENIED"
	PAOutcomePending  PAOutcome = "PENDING"
)

// Record is one patient journey row as landed from the warehouse.
// Milestone timestamps are nullable; EnrolledTS is required but kept as a
// pointer so a missing value surfaces as a validation finding instead of a
// zero time silently passing downstream checks.
type Record struct {
	PatientIDHash string `json:"patient_id_hash"`
	EnrollmentID  string `json:"enrollment_id"`

	PrimaryCaseID string `json:"primary_case_id,omitempty"`
	PayerID       string `json:"payer_id,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`

	EnrolledTS                *time.Time `json:"enrolled_ts"`
	BVCompletedTS             *time.Time `json:"bv_completed_ts,omitempty"`
	PASubmittedTS             *time.Time `json:"pa_submitted_ts,omitempty"`
	PAApprovedTS              *time.Time `json:"pa_approved_ts,omitempty"`
	PADeniedTS                *time.Time `json:"pa_denied_ts,omitempty"`
	AppealSubmittedTS         *time.Time `json:"appeal_submitted_ts,omitempty"`
	FirstShipmentTS           *time.Time `json:"first_shipment_ts,omitempty"`
	CopayAssistanceApprovedTS *time.Time `json:"copay_assistance_approved_ts,omitempty"`

	PAOutcome PAOutcome `json:"pa_outcome,omitempty"`

	Channel     string `json:"channel,omitempty"`
	HubVendor   string `json:"hub_vendor,omitempty"`
	ProgramType string `json:"program_type,omitempty"`
	Indication  string `json:"indication,omitempty"`
}

// Derived holds the computed KPI columns for a Record. Duration fields are
// nil when an eligibility endpoint is missing; nil means "absent", never zero.
type Derived struct {
	TimeToTherapyDays          *int `json:"time_to_therapy_days,omitempty"`
	TimeToBVDays               *int `json:"time_to_bv_days,omitempty"`
	TimeToPASubmitDays         *int `json:"time_to_pa_submit_days,omitempty"`
	TimeToPAApprovalDays       *int `json:"time_to_pa_approval_days,omitempty"`
	TimeFromApprovalToShipDays *int `json:"time_from_approval_to_ship_days,omitempty"`

	AbandonedFlag bool `json:"abandoned_flag"`

	BVCompleted bool `json:"bv_completed"`
	PASubmitted bool `json:"pa_submitted"`
	PAApproved  bool `json:"pa_approved"`
	PADenied    bool `json:"pa_denied"`
	Shipped     bool `json:"shipped"`

	// OutcomeConflict is set when a milestone timestamp and the enumerated
	// pa_outcome disagree. The conflict is surfaced as a validation finding;
	// neither signal takes precedence.
	OutcomeConflict bool `json:"outcome_conflict,omitempty"`
}

// Enriched pairs a raw record with its derived columns.
type Enriched struct {
	Record  Record  `json:"record"`
	Derived Derived `json:"derived"`
}
