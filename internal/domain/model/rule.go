package model

import (
	"time"

	"github.com/Xybronix/ecomobile/internal/domain"

	"github.com/google/uuid"
)

// TargetType selects which eligibility sweep, if any, grants a rule
// automatically. Manual rules are only granted by an admin.
type TargetType string

const (
	TargetNewUsers        TargetType = "new_users"
	TargetExistingByDays  TargetType = "existing_by_days"
	TargetExistingBySpend TargetType = "existing_by_spend"
	TargetManual          TargetType = "manual"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetNewUsers, TargetExistingByDays, TargetExistingBySpend, TargetManual:
		return true
	}
	return false
}

// EntitlementRule defines a promotional free-day grant: how many free riding
// days a beneficiary receives, who qualifies, during which hours a ride
// counts as free, and how many riders may hold the grant at once.
//
// CurrentBeneficiaries is a counter column maintained in the same transaction
// as every beneficiary insert/delete; it is never recomputed by scanning.
type EntitlementRule struct {
	ID           string
	Name         string
	Description  string
	NumberOfDays int
	Target       TargetType

	// Sweep thresholds; meaningful only for the matching Target.
	TargetDaysSinceRegistration int
	TargetMinSpendIRR           int64

	// Free usage window, hours in [0,24), start inclusive, end exclusive.
	// Nil means any hour. Windows spanning midnight are not accepted.
	StartHour *int
	EndHour   *int

	// Activity window for new grants; existing grants are unaffected.
	ValidFrom  *time.Time
	ValidUntil *time.Time

	// Nil means unlimited.
	MaxBeneficiaries     *int
	CurrentBeneficiaries int

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *EntitlementRule) IsZero() bool { return r == nil || r.ID == "" }

// NewEntitlementRule validates and constructs a rule. Target defaults to
// TargetNewUsers when empty.
func NewEntitlementRule(name, description string, numberOfDays int, target TargetType) (*EntitlementRule, error) {
	if name == "" || numberOfDays < 1 {
		return nil, domain.ErrInvalidArgument
	}
	if target == "" {
		target = TargetNewUsers
	}
	if !target.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &EntitlementRule{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  description,
		NumberOfDays: numberOfDays,
		Target:       target,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SetUsageWindow validates and applies a free usage window. Both bounds must
// be given together; startHour must be strictly below endHour (same-day
// window only).
func (r *EntitlementRule) SetUsageWindow(startHour, endHour *int) error {
	if (startHour == nil) != (endHour == nil) {
		return domain.ErrInvalidArgument
	}
	if startHour != nil {
		if *startHour < 0 || *startHour > 23 || *endHour < 1 || *endHour > 24 || *startHour >= *endHour {
			return domain.ErrInvalidArgument
		}
	}
	r.StartHour = startHour
	r.EndHour = endHour
	return nil
}

// HasWindow reports whether the rule restricts free usage to a daily window.
func (r *EntitlementRule) HasWindow() bool { return r.StartHour != nil && r.EndHour != nil }

// MatchesStartHour reports whether a ride starting at the given hour of day
// falls inside the rule's free usage window.
func (r *EntitlementRule) MatchesStartHour(hour int) bool {
	if !r.HasWindow() {
		return true
	}
	return *r.StartHour <= hour && hour < *r.EndHour
}

// AcceptsGrantsAt reports whether new grants may be issued at the given
// moment: the rule must be enabled and inside its validity window.
func (r *EntitlementRule) AcceptsGrantsAt(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// AtCapacity reports whether the beneficiary cap has been reached. The
// authoritative check happens in the store's conditional increment; this is
// only used to skip candidates cheaply during sweeps.
func (r *EntitlementRule) AtCapacity() bool {
	return r.MaxBeneficiaries != nil && r.CurrentBeneficiaries >= *r.MaxBeneficiaries
}
