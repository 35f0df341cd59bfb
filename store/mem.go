package store

import (
	"context"
	"sync"

	"github.com/chain/txvm/errors"
)

// Mem is a map-backed Store for tests and throwaway validators.
// Values are cloned on the way in and out.
type Mem struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	txs      map[string]*Tx
	slots    map[uint64]*Slot
	pins     map[string]uint64
	height   uint64
}

var _ Store = (*Mem)(nil)

func NewMem() *Mem {
	return &Mem{
		accounts: make(map[string]*Account),
		txs:      make(map[string]*Tx),
		slots:    make(map[uint64]*Slot),
		pins:     make(map[string]uint64),
	}
}

func (m *Mem) Account(_ context.Context, addr string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[addr]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "account %s", addr)
	}
	return a.Clone(), nil
}

func (m *Mem) PutAccount(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.Address] = acct.Clone()
	return nil
}

func (m *Mem) Tx(_ context.Context, id string) (*Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "tx %s", id)
	}
	return tx.Clone(), nil
}

func (m *Mem) Slot(_ context.Context, height uint64) (*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.slots[height]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "slot %d", height)
	}
	return sl.Clone(), nil
}

func (m *Mem) SlotTxs(_ context.Context, height uint64) ([]*Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sl, ok := m.slots[height]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "slot %d", height)
	}
	txs := make([]*Tx, 0, len(sl.TxIDs))
	for _, id := range sl.TxIDs {
		tx, ok := m.txs[id]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "tx %s of slot %d", id, height)
		}
		txs = append(txs, tx.Clone())
	}
	return txs, nil
}

func (m *Mem) Height(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height, nil
}

func (m *Mem) Apply(_ context.Context, cs Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range cs.Accounts {
		m.accounts[acct.Address] = acct.Clone()
	}
	for _, tx := range cs.Txs {
		m.txs[tx.ID] = tx.Clone()
	}
	if cs.Slot != nil {
		m.slots[cs.Slot.Height] = cs.Slot.Clone()
		if cs.Slot.Height > m.height {
			m.height = cs.Slot.Height
		}
	}
	return nil
}

func (m *Mem) Pin(_ context.Context, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	height, ok := m.pins[name]
	if !ok {
		m.pins[name] = 0
	}
	return height, nil
}

func (m *Mem) SetPin(_ context.Context, name string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[name] = height
	return nil
}

func (m *Mem) MarkFinalized(_ context.Context, thru uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Slot <= thru {
			tx.Finalized = true
		}
	}
	return nil
}

func (m *Mem) Close() error { return nil }
