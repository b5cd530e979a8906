package model

import (
	"time"

	"github.com/Xybronix/ecomobile/internal/domain"

	"github.com/google/uuid"
)

type BeneficiaryStatus string

const (
	// BeneficiaryStatusPending: granted but not yet activated by the rider.
	BeneficiaryStatusPending BeneficiaryStatus = "pending"
	// BeneficiaryStatusActive: the rider picked a start date; days are consumable
	// until ExpiresAt.
	BeneficiaryStatusActive BeneficiaryStatus = "active"
	// BeneficiaryStatusExhausted: all days consumed, or superseded by a rule
	// edit that lowered the cap below what was already used.
	BeneficiaryStatusExhausted BeneficiaryStatus = "exhausted"
)

// Beneficiary is one rider's grant under one rule (unique per rule × rider).
// StartAt and ExpiresAt stay nil while the grant is pending; activation fixes
// both. DaysGranted snapshots the rule's day count at grant time and is
// rewritten when an admin edits the rule's NumberOfDays.
type Beneficiary struct {
	ID            string
	RuleID        string
	UserID        string
	DaysGranted   int
	DaysRemaining int
	StartAt       *time.Time
	ExpiresAt     *time.Time
	Status        BeneficiaryStatus
	CreatedAt     time.Time
}

// NewBeneficiary creates a pending grant from a rule snapshot.
func NewBeneficiary(rule *EntitlementRule, userID string) (*Beneficiary, error) {
	if rule.IsZero() || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Beneficiary{
		ID:            uuid.NewString(),
		RuleID:        rule.ID,
		UserID:        userID,
		DaysGranted:   rule.NumberOfDays,
		DaysRemaining: rule.NumberOfDays,
		Status:        BeneficiaryStatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// DaysUsed never decreases except when a rule edit raises DaysGranted.
func (b *Beneficiary) DaysUsed() int { return b.DaysGranted - b.DaysRemaining }

func (b *Beneficiary) IsActive() bool {
	return b.Status == BeneficiaryStatusPending || b.Status == BeneficiaryStatusActive
}

// Activate fixes the start date to now and the expiry to now plus the granted
// day count, regardless of how long the grant sat pending.
func (b *Beneficiary) Activate(now time.Time) error {
	switch b.Status {
	case BeneficiaryStatusActive:
		return domain.ErrAlreadyActive
	case BeneficiaryStatusPending:
	default:
		return domain.ErrNotFound
	}
	expires := now.Add(time.Duration(b.DaysGranted) * 24 * time.Hour)
	b.StartAt = &now
	b.ExpiresAt = &expires
	b.Status = BeneficiaryStatusActive
	return nil
}

// ApplyDayCap rewrites the grant against a new per-rule day count, keeping
// days already used. Used-up grants are exhausted with a zero balance (no
// retroactive charge); grants with balance left are reactivated if a previous
// edit had exhausted them. Pending grants stay pending.
func (b *Beneficiary) ApplyDayCap(numberOfDays int) {
	used := b.DaysUsed()
	b.DaysGranted = numberOfDays
	if used >= numberOfDays {
		b.DaysRemaining = 0
		b.Status = BeneficiaryStatusExhausted
		return
	}
	b.DaysRemaining = numberOfDays - used
	if b.Status == BeneficiaryStatusExhausted {
		b.Status = BeneficiaryStatusActive
	}
}
