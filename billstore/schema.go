package billstore

import (
	"context"
	"database/sql"
)

// Table is the table of bill records.
const Table = "faturas_brk"

// schemaDDL creates the bill table and its indexes. Dates, amounts and codes
// are TEXT to avoid locale-dependent parsing. Flags are INTEGER 0/1.
var schemaDDL = []string{`
	CREATE TABLE IF NOT EXISTS faturas_brk (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		cdc                   TEXT,
		casa_oracao           TEXT,
		data_emissao          TEXT,
		vencimento            TEXT,
		competencia           TEXT,
		valor                 TEXT,
		medido_real           TEXT,
		faturado              TEXT,
		media_6m              TEXT,
		porcentagem_consumo   TEXT,
		alerta_consumo        TEXT,
		dados_extraidos_ok    INTEGER NOT NULL DEFAULT 0,
		email_id              TEXT,
		nome_arquivo_original TEXT,
		nome_arquivo          TEXT,
		hash_arquivo          TEXT,
		data_processamento    TEXT NOT NULL,
		status_duplicata      TEXT NOT NULL DEFAULT 'NORMAL',
		observacao            TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_cdc_competencia ON faturas_brk (cdc, competencia);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_status_duplicata ON faturas_brk (status_duplicata);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_casa_oracao ON faturas_brk (casa_oracao);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_data_processamento ON faturas_brk (data_processamento);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_competencia ON faturas_brk (competencia);`,
	`CREATE INDEX IF NOT EXISTS idx_faturas_hash_arquivo ON faturas_brk (hash_arquivo);`,
}

// InitSchema creates the bill table and its indexes, if they don't exist.
// It's idempotent. Failures are returned as *SchemaError.
func InitSchema(ctx context.Context, db *sql.DB, path string) error {
	var txn, err = db.BeginTx(ctx, nil)
	if err != nil {
		return &SchemaError{Path: path, Err: err}
	}
	for _, stmt := range schemaDDL {
		if _, err = txn.ExecContext(ctx, stmt); err != nil {
			_ = txn.Rollback()
			return &SchemaError{Path: path, Err: err}
		}
	}
	if err = txn.Commit(); err != nil {
		return &SchemaError{Path: path, Err: err}
	}
	return nil
}
