package audience

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/crm-campaigns/internal/model"
	"github.com/jmehdipour/crm-campaigns/internal/repository"
	"github.com/jmehdipour/crm-campaigns/internal/rules"
)

// ErrStoreUnavailable wraps every customer store failure. Callers treat it as transient.
var ErrStoreUnavailable = errors.New("customer store unavailable")

// Resolver selects the customers a compiled predicate matches. It has no side effects.
type Resolver struct {
	customers repository.CustomersRepository
}

func NewResolver(customers repository.CustomersRepository) *Resolver {
	return &Resolver{customers: customers}
}

// Count returns the number of matching customers.
func (r *Resolver) Count(ctx context.Context, p rules.Predicate) (int64, error) {
	n, err := r.customers.Count(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Members returns id and name of every matching customer, ordered by id.
func (r *Resolver) Members(ctx context.Context, p rules.Predicate) ([]model.CustomerRef, error) {
	refs, err := r.customers.FindRefs(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: members: %w", ErrStoreUnavailable, err)
	}
	if refs == nil {
		refs = []model.CustomerRef{}
	}
	return refs, nil
}
