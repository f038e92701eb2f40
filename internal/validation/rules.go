// Package validation evaluates data-quality rules over derived journey records.
// Validation outcomes are accumulated data, never raised faults: the engine
// always processes the whole input and reports every finding in one pass.
package validation

// Rule names, stable identifiers carried in reports and metrics labels.
const (
	RulePatientHashPresent = "patient_id_hash_present"
	RuleEnrolledPresent    = "enrolled_ts_present"
	RuleEnrolledNotFuture  = "enrolled_ts_not_future"

	RuleOrderEnrolledBV       = "order_enrolled_before_bv"
	RuleOrderBVPASubmit       = "order_bv_before_pa_submit"
	RuleOrderPASubmitApproval = "order_pa_submit_before_approval"
	RuleOrderApprovalShipment = "order_approval_before_shipment"

	RuleTimeToTherapyNonNegative    = "time_to_therapy_non_negative"
	RuleTimeToBVNonNegative         = "time_to_bv_non_negative"
	RuleTimeToPASubmitNonNegative   = "time_to_pa_submit_non_negative"
	RuleTimeToPAApprovalNonNegative = "time_to_pa_approval_non_negative"
	RuleApprovalToShipNonNegative   = "approval_to_ship_non_negative"

	RulePayerKnown    = "payer_id_known"
	RuleProductKnown  = "product_id_known"
	RuleProviderKnown = "provider_id_known"

	RulePAOutcomeConsistent = "pa_outcome_consistent"

	RuleEnrollmentIDUnique = "enrollment_id_unique"
)

// Outcome is the result of one rule evaluation.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
	// OutcomeInconclusive marks referential checks that could not run because
	// the dimension key set was unavailable. Distinct from failure.
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// KeySet is an externally supplied dimension key set. Available reports
// whether the set could be loaded; an unavailable set turns its referential
// checks inconclusive instead of failing them.
type KeySet struct {
	keys      map[string]struct{}
	available bool
}

// NewKeySet builds an available key set from the given ids.
func NewKeySet(ids ...string) KeySet {
	keys := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keys[id] = struct{}{}
	}
	return KeySet{keys: keys, available: true}
}

// UnavailableKeySet marks a dimension that could not be loaded.
func UnavailableKeySet() KeySet {
	return KeySet{}
}

// Available reports whether the set was loaded.
func (k KeySet) Available() bool { return k.available }

// Contains reports membership. Only meaningful when Available.
func (k KeySet) Contains(id string) bool {
	_, ok := k.keys[id]
	return ok
}

// Len returns the number of keys in the set.
func (k KeySet) Len() int { return len(k.keys) }

// DimensionSets carries the referential key sets for the three checked
// dimensions. The engine never owns these; they are collaborator inputs.
type DimensionSets struct {
	Payers    KeySet
	Products  KeySet
	Providers KeySet
}
