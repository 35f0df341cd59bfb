package client

import (
	"context"
	"database/sql"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/chain/txvm/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Registry is a local index from analysis IDs to the storage accounts
// holding their records, so tools can find their accounts again across
// runs. It lives in a SQLite file next to the wallet.
type Registry struct {
	db *sql.DB
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS analyses (
  analysis_id TEXT NOT NULL PRIMARY KEY,
  address TEXT NOT NULL,
  tx_id TEXT NOT NULL,
  created_ms INTEGER NOT NULL
);
`

// OpenRegistry opens or creates the registry file at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening registry %s", path)
	}
	_, err = db.Exec(registrySchema)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating registry schema")
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Entry is one registered analysis.
type Entry struct {
	AnalysisID string
	Address    string
	TxID       string
	CreatedMS  int64
}

// Add registers a stored record under a fresh analysis ID.
func (r *Registry) Add(ctx context.Context, address, txID string) (string, error) {
	id := uuid.New().String()
	const q = `INSERT INTO analyses (analysis_id, address, tx_id, created_ms) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, q, id, address, txID, time.Now().UnixMilli())
	if err != nil {
		return "", errors.Wrapf(err, "registering analysis for %s", address)
	}
	return id, nil
}

// Lookup finds the entry registered under an analysis ID.
func (r *Registry) Lookup(ctx context.Context, analysisID string) (*Entry, error) {
	e := Entry{AnalysisID: analysisID}
	const q = `SELECT address, tx_id, created_ms FROM analyses WHERE analysis_id = $1`
	err := r.db.QueryRowContext(ctx, q, analysisID).Scan(&e.Address, &e.TxID, &e.CreatedMS)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "analysis %s", analysisID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up analysis %s", analysisID)
	}
	return &e, nil
}

// List returns registered entries, newest first.
func (r *Registry) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*Entry
	const q = `SELECT analysis_id, address, tx_id, created_ms FROM analyses ORDER BY created_ms DESC, analysis_id LIMIT $1`
	err := sqlutil.ForQueryRows(ctx, r.db, q, limit, func(id, address, txID string, createdMS int64) {
		entries = append(entries, &Entry{AnalysisID: id, Address: address, TxID: txID, CreatedMS: createdMS})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing analyses")
	}
	return entries, nil
}
