package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/reconciler/internal/domain"
	"google.golang.org/api/iterator"
)

// Registry resolves bank accounts from finance.accounts.
type Registry struct {
	wh *Warehouse
}

func NewRegistry(wh *Warehouse) *Registry {
	return &Registry{wh: wh}
}

// ResolveBankAccount returns an open account by id. Closed accounts do not resolve.
func (r *Registry) ResolveBankAccount(ctx context.Context, id string) (domain.BankAccount, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.BankAccount{}, domain.ValidationErrorf("bank account id is required")
	}

	q := r.wh.client.Query(fmt.Sprintf(`
		SELECT
			account_id,
			account_name,
			account_number,
			iban,
			currency,
			closed_date,
			is_primary,
			account_type
		FROM %s
		WHERE account_id = @account_id
		LIMIT 1
	`, r.wh.table(accountsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: id},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("ResolveBankAccount: reading query: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.BankAccount{}, domain.NotFoundErrorf("bank account %s not found", id)
	}
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("ResolveBankAccount: iterating: %w", err)
	}
	if row.ClosedDate.Valid {
		return domain.BankAccount{}, domain.NotFoundErrorf("bank account %s is closed since %s", id, row.ClosedDate.Date)
	}

	return domain.BankAccount{ID: row.AccountID, Label: row.Label()}, nil
}

var _ domain.AccountRegistry = (*Registry)(nil)
