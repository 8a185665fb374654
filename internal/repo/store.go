package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankintake/internal/domain"
)

// Store persists applications and their audit events. Implementations
// return domain.ErrNotFound and domain.ErrDuplicateReference as-is and wrap
// every other driver failure in domain.ErrStoreUnavailable.
type Store interface {
	Create(ctx context.Context, app domain.Application, evt domain.Event) error
	// FindByToken matches id or reference number within one family.
	FindByToken(ctx context.Context, family domain.Family, token string) (domain.Application, error)
	Find(ctx context.Context, f Filter) ([]domain.Application, error)
	Count(ctx context.Context, f Filter) (int64, error)
	// UpdateStatus moves a record from Expected to New only if it is still
	// in Expected, and reports how many records matched (0 or 1). The event
	// is written only when a record matched.
	UpdateStatus(ctx context.Context, u StatusUpdate, evt domain.Event) (int64, error)
	Events(ctx context.Context, applicationID string) ([]domain.Event, error)
	Ping(ctx context.Context) error
	Close() error
}

// Filter selects applications of one family. Results are ordered newest
// first; Limit 0 means no limit.
type Filter struct {
	Family      domain.Family
	Status      domain.Status
	ProductType domain.ProductType
	// Query is a case-insensitive substring of reference number or applicant name.
	Query string
	Skip  int64
	Limit int64
}

type StatusUpdate struct {
	ID              string
	ReferenceNumber string
	Family          domain.Family
	Expected        domain.Status
	New             domain.Status
	DecidedAt       time.Time
	UpdatedAt       time.Time
	ActorID         string
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

func requireFamily(f domain.Family) error {
	if !f.Valid() {
		return fmt.Errorf("unknown product family %q", f)
	}
	return nil
}
