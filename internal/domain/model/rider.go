package model

import (
	"time"

	"github.com/Xybronix/ecomobile/internal/domain"

	"github.com/google/uuid"
)

// Rider is the minimal identity slice of a platform user this engine needs:
// enough to join beneficiary rosters and run eligibility sweeps.
// TotalSpendIRR is denormalized by the wallet service and read-only here.
type Rider struct {
	ID            string
	FullName      string
	Phone         string
	RegisteredAt  time.Time
	TotalSpendIRR int64
}

func NewRider(id, fullName, phone string) (*Rider, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if fullName == "" || phone == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Rider{
		ID:           id,
		FullName:     fullName,
		Phone:        phone,
		RegisteredAt: time.Now(),
	}, nil
}

func (r *Rider) IsZero() bool { return r == nil || r.ID == "" }
