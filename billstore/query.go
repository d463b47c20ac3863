package billstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/tesouraria/brkmon/bills"
)

const recordColumns = `id, cdc, casa_oracao, data_emissao, vencimento, competencia, valor,
	medido_real, faturado, media_6m, porcentagem_consumo, alerta_consumo,
	dados_extraidos_ok, email_id, nome_arquivo_original, nome_arquivo,
	hash_arquivo, data_processamento, status_duplicata, observacao`

const insertSQL = `INSERT INTO faturas_brk (
	cdc, casa_oracao, data_emissao, vencimento, competencia, valor,
	medido_real, faturado, media_6m, porcentagem_consumo, alerta_consumo,
	dados_extraidos_ok, email_id, nome_arquivo_original, nome_arquivo,
	hash_arquivo, data_processamento, status_duplicata, observacao
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func recordArgs(r bills.Record) []interface{} {
	var valid = 0
	if r.Valid {
		valid = 1
	}
	return []interface{}{
		r.ClientCode, r.LocationName, r.EmissionDate, r.DueDate, r.BillingPeriod, r.Amount,
		r.MeasuredConsumption, r.BilledConsumption, r.AverageConsumption, r.ConsumptionPercentage, r.AlertLevel,
		valid, r.SourceEmailID, r.OriginalFilename, r.DerivedFilename,
		r.ContentHash, r.ProcessedAt.Format(time.RFC3339), string(r.DuplicateStatus), r.Observation,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (bills.Record, error) {
	var r bills.Record
	var cdc, casa, emission, due, period, amount sql.NullString
	var measured, billed, average, pct, alert sql.NullString
	var emailID, original, derived, hash, obs sql.NullString
	var valid int
	var processedAt, status string

	if err := row.Scan(&r.ID, &cdc, &casa, &emission, &due, &period, &amount,
		&measured, &billed, &average, &pct, &alert,
		&valid, &emailID, &original, &derived,
		&hash, &processedAt, &status, &obs,
	); err != nil {
		return r, err
	}

	r.ClientCode, r.LocationName, r.EmissionDate = cdc.String, casa.String, emission.String
	r.DueDate, r.BillingPeriod, r.Amount = due.String, period.String, amount.String
	r.MeasuredConsumption, r.BilledConsumption = measured.String, billed.String
	r.AverageConsumption, r.ConsumptionPercentage, r.AlertLevel = average.String, pct.String, alert.String
	r.Valid = valid != 0
	r.SourceEmailID, r.OriginalFilename, r.DerivedFilename = emailID.String, original.String, derived.String
	r.ContentHash, r.Observation = hash.String, obs.String
	r.DuplicateStatus = bills.DuplicateStatus(status)
	r.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)

	return r, nil
}

// Get returns the Record having |id|, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id int64) (bills.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return bills.Record{}, err
	}
	return scanRecord(db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM faturas_brk WHERE id = ?", id))
}

// Filter selects Records of List. Zero-valued fields match all Records.
type Filter struct {
	BillingPeriod   string
	DuplicateStatus bills.DuplicateStatus
	ClientCode      string
	LocationName    string
	// Limit the number of returned Records. Zero is unlimited.
	Limit int
}

// List returns Records matching the Filter, ordered on ID.
func (s *Store) List(ctx context.Context, f Filter) ([]bills.Record, error) {
	var where []string
	var args []interface{}

	for _, c := range []struct {
		column, value string
	}{
		{"competencia", f.BillingPeriod},
		{"status_duplicata", string(f.DuplicateStatus)},
		{"cdc", f.ClientCode},
		{"casa_oracao", f.LocationName},
	} {
		if c.value != "" {
			where = append(where, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	var q = "SELECT " + recordColumns + " FROM faturas_brk"
	if len(where) != 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bills.Record
	for rows.Next() {
		var r, err = scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByMonth returns the Records of billing period |month|/|year|.
func (s *Store) ListByMonth(ctx context.Context, year, month int) ([]bills.Record, error) {
	return s.List(ctx, Filter{BillingPeriod: bills.FormatPeriod(year, month)})
}

// HasContentHash returns whether a Record of content |hash| exists.
func (s *Store) HasContentHash(ctx context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM faturas_brk WHERE hash_arquivo = ?", hash).Scan(&n)
	return n != 0, err
}

// Missing returns the members of |expected| client codes which have no
// Record of billing |period|, in their given order.
func (s *Store) Missing(ctx context.Context, period string, expected []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT cdc FROM faturas_brk WHERE competencia = ?", strings.TrimSpace(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var present = make(map[string]bool)
	for rows.Next() {
		var cdc sql.NullString
		if err = rows.Scan(&cdc); err != nil {
			return nil, err
		}
		present[cdc.String] = true
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, cdc := range expected {
		if !present[strings.TrimSpace(cdc)] {
			out = append(out, cdc)
		}
	}
	return out, nil
}

// Stats summarizes a Store.
type Stats struct {
	Total    int
	ByStatus map[bills.DuplicateStatus]int
	Mode     Mode
	Path     string
	Sync     SyncStatus
}

// Stats returns current Stats of the Store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var out = Stats{
		ByStatus: make(map[bills.DuplicateStatus]int),
		Mode:     s.mode,
		Path:     s.path,
		Sync:     s.syncer.Status(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return out, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT status_duplicata, COUNT(*) FROM faturas_brk GROUP BY status_duplicata")
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return out, err
		}
		out.ByStatus[bills.DuplicateStatus(status)] = n
		out.Total += n
	}
	return out, rows.Err()
}

// Reset deletes every Record and restarts ID assignment. It's an
// administrative operation of full rebuilds.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var db, err = s.conn()
	if err != nil {
		return err
	}
	txn, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err = txn.ExecContext(ctx, "DELETE FROM faturas_brk"); err == nil {
		_, err = txn.ExecContext(ctx, "DELETE FROM sqlite_sequence WHERE name = 'faturas_brk'")
	}
	if err != nil {
		_ = txn.Rollback()
		return err
	}
	if err = txn.Commit(); err != nil {
		return err
	}
	s.syncer.MarkDirty()
	return nil
}
