package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry resolves bank accounts from the bank_accounts table.
type Registry struct {
	pool *pgxpool.Pool
}

func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

func (r *Registry) ResolveBankAccount(ctx context.Context, id string) (domain.BankAccount, error) {
	var a domain.BankAccount
	err := r.pool.QueryRow(ctx, `SELECT id, label FROM bank_accounts WHERE id = $1`, id).Scan(&a.ID, &a.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BankAccount{}, domain.NotFoundErrorf("bank account %s not found", id)
	}
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("ResolveBankAccount: %s: %w", id, err)
	}
	return a, nil
}

var _ domain.AccountRegistry = (*Registry)(nil)
