package bigquery

import "cloud.google.com/go/bigquery"

type AccountRow struct {
	AccountID string `bigquery:"account_id"` // REQUIRED

	AccountName   string              `bigquery:"account_name"`   // NULLABLE
	AccountNumber string              `bigquery:"account_number"` // NULLABLE
	IBAN          string              `bigquery:"iban"`           // NULLABLE
	Currency      string              `bigquery:"currency"`       // NULLABLE
	ClosedDate    bigquery.NullDate   `bigquery:"closed_date"`    // DATE, NULLABLE
	IsPrimary     bigquery.NullBool   `bigquery:"is_primary"`     // BOOLEAN, NULLABLE
	AccountType   bigquery.NullString `bigquery:"account_type"`   // NULLABLE
}

// Label is the display name of the account, falling back to IBAN then number.
func (a AccountRow) Label() string {
	switch {
	case a.AccountName != "":
		return a.AccountName
	case a.IBAN != "":
		return a.IBAN
	case a.AccountNumber != "":
		return a.AccountNumber
	}
	return a.AccountID
}
