package domain

// Allowance names the counter a scan is charged against.
type Allowance string

const (
	AllowancePlan   Allowance = "plan"
	AllowanceCredit Allowance = "credit"
	AllowanceNone   Allowance = "none"
)

// Decision is the outcome of an entitlement evaluation. Remaining already
// accounts for the scan about to be charged when Allowed is true.
type Decision struct {
	Allowed   bool
	Remaining int
	PlanType  PlanType
	Allowance Allowance
	Reason    Reason
}

// Denied returns the decision for a user with nothing left to spend.
func Denied(plan PlanType) Decision {
	return Decision{
		Allowed:   false,
		Remaining: 0,
		PlanType:  plan,
		Allowance: AllowanceNone,
		Reason:    ReasonScanLimitReached,
	}
}
