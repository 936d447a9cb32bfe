package memory

import (
	"context"
	"sync"

	"github.com/dvloznov/reconciler/internal/domain"
)

// Registry is an in-memory domain.AccountRegistry.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]domain.BankAccount
}

func NewRegistry(accounts ...domain.BankAccount) *Registry {
	r := &Registry{accounts: make(map[string]domain.BankAccount)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *Registry) Add(a domain.BankAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

func (r *Registry) ResolveBankAccount(ctx context.Context, id string) (domain.BankAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return domain.BankAccount{}, domain.NotFoundErrorf("bank account %s not found", id)
	}
	return a, nil
}

var _ domain.AccountRegistry = (*Registry)(nil)
