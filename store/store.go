// Package store persists ledger state: accounts, executed transactions,
// closed slots, and follower cursors. Backends share one narrow
// interface so the validator can run on SQLite, LevelDB, or in memory.
package store

import (
	"context"
	"fmt"

	"github.com/chain/txvm/errors"
)

// ErrNotFound is returned for lookups of absent accounts, transactions,
// and slots.
var ErrNotFound = errors.New("not found")

// Account is the host-level state of one address.
type Account struct {
	Address     string `json:"address"`
	Lamports    uint64 `json:"lamports"`
	Owner       string `json:"owner"`
	Data        []byte `json:"data"`
	Creator     string `json:"creator"`
	CreatedSlot uint64 `json:"created_slot"`
	UpdatedSlot uint64 `json:"updated_slot"`
}

// Clone returns a deep copy, so callers may mutate staged state without
// reaching into the store's own values.
func (a *Account) Clone() *Account {
	b := *a
	b.Data = append([]byte{}, a.Data...)
	return &b
}

// Tx is the stored outcome of one executed transaction.
type Tx struct {
	ID        string   `json:"id"`
	Slot      uint64   `json:"slot"`
	Index     int      `json:"index"`
	Status    string   `json:"status"`
	Err       string   `json:"err,omitempty"`
	Log       []string `json:"log"`
	Raw       []byte   `json:"raw"`
	TimeMS    int64    `json:"time_ms"`
	Finalized bool     `json:"finalized"`
}

// Tx status values.
const (
	TxOK     = "ok"
	TxFailed = "failed"
)

func (tx *Tx) Clone() *Tx {
	c := *tx
	c.Log = append([]string{}, tx.Log...)
	c.Raw = append([]byte{}, tx.Raw...)
	return &c
}

// Slot is one closed slot of the chain.
type Slot struct {
	Height uint64   `json:"height"`
	Hash   []byte   `json:"hash"`
	Parent []byte   `json:"parent"`
	TimeMS int64    `json:"time_ms"`
	TxIDs  []string `json:"tx_ids"`
}

func (s *Slot) Clone() *Slot {
	c := *s
	c.Hash = append([]byte{}, s.Hash...)
	c.Parent = append([]byte{}, s.Parent...)
	c.TxIDs = append([]string{}, s.TxIDs...)
	return &c
}

// Changeset is one atomic batch of effects: the accounts touched by a
// slot's transactions, the transaction results, and the slot row
// itself. A changeset with a nil Slot (faucet credits, bootstrap) still
// applies atomically.
type Changeset struct {
	Slot     *Slot
	Txs      []*Tx
	Accounts []*Account
}

// Store is the persistence surface the validator runs on. A failed
// Apply must leave no partial effects.
type Store interface {
	// Account returns the account at addr, or ErrNotFound.
	Account(ctx context.Context, addr string) (*Account, error)

	// PutAccount upserts one account outside slot processing.
	PutAccount(ctx context.Context, acct *Account) error

	// Tx returns the stored transaction with the given ID, or ErrNotFound.
	Tx(ctx context.Context, id string) (*Tx, error)

	// Slot returns the slot at the given height, or ErrNotFound.
	Slot(ctx context.Context, height uint64) (*Slot, error)

	// SlotTxs returns the transactions of one slot in execution order.
	SlotTxs(ctx context.Context, height uint64) ([]*Tx, error)

	// Height returns the height of the latest closed slot, zero when
	// no slot has closed yet.
	Height(ctx context.Context) (uint64, error)

	// Apply writes one changeset atomically.
	Apply(ctx context.Context, cs Changeset) error

	// Pin returns the named follower cursor, creating it at zero when
	// absent.
	Pin(ctx context.Context, name string) (uint64, error)

	// SetPin advances the named follower cursor.
	SetPin(ctx context.Context, name string, height uint64) error

	// MarkFinalized marks every transaction in slots at or below thru
	// as finalized.
	MarkFinalized(ctx context.Context, thru uint64) error

	Close() error
}

// Open constructs a store for the named backend. SQLite paths are DSNs
// for the sqlite3 driver; the mem backend ignores path.
func Open(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case "sqlite3", "":
		return OpenSQLite(ctx, path)
	case "leveldb":
		return OpenLevelDB(path)
	case "mem":
		return NewMem(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
