package billstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tesouraria/brkmon/bills"
)

// Classification is the result of classifying a natural key. Exactly one of
// Status or Err is set: a failed classification has an empty Status.
type Classification struct {
	Status bills.DuplicateStatus
	Err    error
}

// Classified is the successful Classification of |status|.
func Classified(status bills.DuplicateStatus) Classification {
	return Classification{Status: status}
}

// ClassificationFailed is the Classification of a failed lookup.
func ClassificationFailed(err *ClassificationError) Classification {
	return Classification{Err: err}
}

// Failed returns whether the classification could not be determined.
func (c Classification) Failed() bool { return c.Err != nil }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Classify determines the duplicate status of the natural key
// (|clientCode|, |period|): DUPLICATA if any record of the key exists, and
// NORMAL otherwise. A key having an empty component is NORMAL without
// querying, as a missing key cannot identify a duplicate.
func Classify(ctx context.Context, q rowQuerier, clientCode, period string) Classification {
	clientCode, period = strings.TrimSpace(clientCode), strings.TrimSpace(period)
	if clientCode == "" || period == "" {
		return Classified(bills.StatusNormal)
	}

	var n int
	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM faturas_brk WHERE cdc = ? AND competencia = ?",
		clientCode, period,
	).Scan(&n); err != nil {
		return ClassificationFailed(&ClassificationError{
			ClientCode:    clientCode,
			BillingPeriod: period,
			Err:           err,
		})
	}

	if n == 0 {
		return Classified(bills.StatusNormal)
	}
	return Classified(bills.StatusDuplicate)
}
