package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/bobg/sqlutil"
	"github.com/chain/txvm/errors"
	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the primary backend, one database file per validator.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the database at path and ensures the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite db %s", path)
	}
	s, err := NewSQLite(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite ensures the schema on an already-open handle.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	_, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;")
	if err != nil {
		return nil, errors.Wrap(err, "setting db pragmas")
	}
	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		return nil, errors.Wrap(err, "creating db schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Account(ctx context.Context, addr string) (*Account, error) {
	const q = `SELECT lamports, owner, data, creator, created_slot, updated_slot FROM accounts WHERE address = $1`
	a := Account{Address: addr}
	err := s.db.QueryRowContext(ctx, q, addr).Scan(&a.Lamports, &a.Owner, &a.Data, &a.Creator, &a.CreatedSlot, &a.UpdatedSlot)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "account %s", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading account %s", addr)
	}
	return &a, nil
}

func (s *SQLite) PutAccount(ctx context.Context, acct *Account) error {
	_, err := s.db.ExecContext(ctx, upsertAccount, acct.Address, acct.Lamports, acct.Owner, acct.Data, acct.Creator, acct.CreatedSlot, acct.UpdatedSlot)
	return errors.Wrapf(err, "storing account %s", acct.Address)
}

const upsertAccount = `
INSERT INTO accounts (address, lamports, owner, data, creator, created_slot, updated_slot)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (address) DO UPDATE SET
  lamports = excluded.lamports,
  owner = excluded.owner,
  data = excluded.data,
  creator = excluded.creator,
  created_slot = excluded.created_slot,
  updated_slot = excluded.updated_slot`

func (s *SQLite) Tx(ctx context.Context, id string) (*Tx, error) {
	const q = `SELECT slot, idx, status, err, log, raw, time_ms, finalized FROM txs WHERE id = $1`
	tx := Tx{ID: id}
	var logJSON string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&tx.Slot, &tx.Index, &tx.Status, &tx.Err, &logJSON, &tx.Raw, &tx.TimeMS, &tx.Finalized)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "tx %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading tx %s", id)
	}
	err = json.Unmarshal([]byte(logJSON), &tx.Log)
	return &tx, errors.Wrapf(err, "parsing log of tx %s", id)
}

func (s *SQLite) Slot(ctx context.Context, height uint64) (*Slot, error) {
	const q = `SELECT hash, parent, time_ms, tx_ids FROM slots WHERE height = $1`
	sl := Slot{Height: height}
	var idsJSON string
	err := s.db.QueryRowContext(ctx, q, height).Scan(&sl.Hash, &sl.Parent, &sl.TimeMS, &idsJSON)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "slot %d", height)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading slot %d", height)
	}
	err = json.Unmarshal([]byte(idsJSON), &sl.TxIDs)
	return &sl, errors.Wrapf(err, "parsing tx ids of slot %d", height)
}

func (s *SQLite) SlotTxs(ctx context.Context, height uint64) ([]*Tx, error) {
	const q = `SELECT id, idx, status, err, log, raw, time_ms, finalized FROM txs WHERE slot = $1 ORDER BY idx`
	var txs []*Tx
	err := sqlutil.ForQueryRows(ctx, s.db, q, height, func(id string, idx int, status, errmsg, logJSON string, raw []byte, timeMS int64, finalized bool) error {
		tx := &Tx{
			ID:        id,
			Slot:      height,
			Index:     idx,
			Status:    status,
			Err:       errmsg,
			Raw:       raw,
			TimeMS:    timeMS,
			Finalized: finalized,
		}
		err := json.Unmarshal([]byte(logJSON), &tx.Log)
		if err != nil {
			return errors.Wrapf(err, "parsing log of tx %s", id)
		}
		txs = append(txs, tx)
		return nil
	})
	return txs, errors.Wrapf(err, "reading txs of slot %d", height)
}

func (s *SQLite) Height(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM slots`).Scan(&height)
	return height, errors.Wrap(err, "reading chain height")
}

func (s *SQLite) Apply(ctx context.Context, cs Changeset) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning db tx")
	}
	defer dbtx.Rollback()

	for _, acct := range cs.Accounts {
		_, err = dbtx.ExecContext(ctx, upsertAccount, acct.Address, acct.Lamports, acct.Owner, acct.Data, acct.Creator, acct.CreatedSlot, acct.UpdatedSlot)
		if err != nil {
			return errors.Wrapf(err, "storing account %s", acct.Address)
		}
	}
	for _, tx := range cs.Txs {
		logJSON, err := json.Marshal(tx.Log)
		if err != nil {
			return errors.Wrapf(err, "marshaling log of tx %s", tx.ID)
		}
		const q = `INSERT INTO txs (id, slot, idx, status, err, log, raw, time_ms, finalized) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		_, err = dbtx.ExecContext(ctx, q, tx.ID, tx.Slot, tx.Index, tx.Status, tx.Err, string(logJSON), tx.Raw, tx.TimeMS, tx.Finalized)
		if err != nil {
			return errors.Wrapf(err, "storing tx %s", tx.ID)
		}
	}
	if cs.Slot != nil {
		idsJSON, err := json.Marshal(cs.Slot.TxIDs)
		if err != nil {
			return errors.Wrapf(err, "marshaling tx ids of slot %d", cs.Slot.Height)
		}
		const q = `INSERT INTO slots (height, hash, parent, time_ms, tx_ids) VALUES ($1, $2, $3, $4, $5)`
		_, err = dbtx.ExecContext(ctx, q, cs.Slot.Height, cs.Slot.Hash, cs.Slot.Parent, cs.Slot.TimeMS, string(idsJSON))
		if err != nil {
			return errors.Wrapf(err, "storing slot %d", cs.Slot.Height)
		}
	}
	return errors.Wrap(dbtx.Commit(), "committing changeset")
}

func (s *SQLite) Pin(ctx context.Context, name string) (uint64, error) {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO pins (name, height) VALUES ($1, 0)`, name)
	if err != nil {
		return 0, errors.Wrapf(err, "creating pin %s", name)
	}
	var height uint64
	err = s.db.QueryRowContext(ctx, `SELECT height FROM pins WHERE name = $1`, name).Scan(&height)
	return height, errors.Wrapf(err, "reading pin %s", name)
}

func (s *SQLite) SetPin(ctx context.Context, name string, height uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pins SET height = $1 WHERE name = $2`, height, name)
	return errors.Wrapf(err, "updating pin %s", name)
}

func (s *SQLite) MarkFinalized(ctx context.Context, thru uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE txs SET finalized = 1 WHERE finalized = 0 AND slot <= $1`, thru)
	return errors.Wrapf(err, "finalizing txs thru slot %d", thru)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
