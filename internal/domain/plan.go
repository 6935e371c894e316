// Package domain contains core business types and interfaces.
//
// This file defines plan tiers and their monthly scan allowances.
package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PlanType identifies the subscription tier governing monthly scans.
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanStarter PlanType = "starter"
	PlanPro     PlanType = "pro"
	PlanPower   PlanType = "power"

	// PlanCredit is reported when a scan is paid for with a purchased credit.
	// It is never stored as a user's plan.
	PlanCredit PlanType = "credit"
)

// PlanLimits maps subscription tiers to their monthly scan allowance.
var PlanLimits = map[PlanType]int{
	PlanFree:    1,
	PlanStarter: 25,
	PlanPro:     100,
	PlanPower:   500,
}

// MonthlyLimit returns the allowance for the plan. Unknown or empty plans get
// the free tier limit.
func (p PlanType) MonthlyLimit() int {
	if limit, ok := PlanLimits[p]; ok {
		return limit
	}
	return PlanLimits[PlanFree]
}

// IsSubscription reports whether the plan is a paid recurring tier.
func (p PlanType) IsSubscription() bool {
	switch p {
	case PlanStarter, PlanPro, PlanPower:
		return true
	}
	return false
}

// DisplayName returns a title-cased name for UI and email copy.
func (p PlanType) DisplayName() string {
	return cases.Title(language.English).String(string(p))
}

// ParsePlanType normalizes a stored plan value. Anything unrecognized
// resolves to free.
func ParsePlanType(s string) PlanType {
	p := PlanType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := PlanLimits[p]; ok {
		return p
	}
	return PlanFree
}
