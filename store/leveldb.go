package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/chain/txvm/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// Key prefixes, one byte each. Slot keys encode the height big-endian
// so keys sort in chain order.
const (
	ldbAccount = byte('a')
	ldbTx      = byte('t')
	ldbSlot    = byte('s')
	ldbPin     = byte('p')
	ldbMeta    = byte('m')
)

var (
	ldbHeightKey    = []byte{ldbMeta, 'h'}
	ldbFinalizedKey = []byte{ldbMeta, 'f'}
)

// LevelDB is an embedded key-value backend for validators that want a
// directory instead of a single database file.
type LevelDB struct {
	db *leveldb.DB
}

var _ Store = (*LevelDB)(nil)

// OpenLevelDB opens or creates the database directory at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %s", path)
	}
	return &LevelDB{db: db}, nil
}

func ldbKey(prefix byte, rest string) []byte {
	return append([]byte{prefix}, rest...)
}

func ldbHeight(prefix byte, height uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

func (l *LevelDB) get(key []byte, v interface{}, what string) error {
	bits, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return errors.Wrap(ErrNotFound, what)
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", what)
	}
	return errors.Wrapf(json.Unmarshal(bits, v), "parsing %s", what)
}

func (l *LevelDB) put(key []byte, v interface{}, what string) error {
	bits, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshaling %s", what)
	}
	return errors.Wrapf(l.db.Put(key, bits, nil), "storing %s", what)
}

func (l *LevelDB) Account(_ context.Context, addr string) (*Account, error) {
	a := new(Account)
	err := l.get(ldbKey(ldbAccount, addr), a, "account "+addr)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (l *LevelDB) PutAccount(_ context.Context, acct *Account) error {
	return l.put(ldbKey(ldbAccount, acct.Address), acct, "account "+acct.Address)
}

func (l *LevelDB) Tx(_ context.Context, id string) (*Tx, error) {
	tx := new(Tx)
	err := l.get(ldbKey(ldbTx, id), tx, "tx "+id)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (l *LevelDB) Slot(_ context.Context, height uint64) (*Slot, error) {
	sl := new(Slot)
	err := l.get(ldbHeight(ldbSlot, height), sl, fmt.Sprintf("slot %d", height))
	if err != nil {
		return nil, err
	}
	return sl, nil
}

func (l *LevelDB) SlotTxs(ctx context.Context, height uint64) ([]*Tx, error) {
	sl, err := l.Slot(ctx, height)
	if err != nil {
		return nil, err
	}
	txs := make([]*Tx, 0, len(sl.TxIDs))
	for _, id := range sl.TxIDs {
		tx, err := l.Tx(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "tx %s of slot %d", id, height)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (l *LevelDB) Height(context.Context) (uint64, error) {
	bits, err := l.db.Get(ldbHeightKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "reading chain height")
	}
	return binary.BigEndian.Uint64(bits), nil
}

func (l *LevelDB) Apply(_ context.Context, cs Changeset) error {
	batch := new(leveldb.Batch)
	for _, acct := range cs.Accounts {
		bits, err := json.Marshal(acct)
		if err != nil {
			return errors.Wrapf(err, "marshaling account %s", acct.Address)
		}
		batch.Put(ldbKey(ldbAccount, acct.Address), bits)
	}
	for _, tx := range cs.Txs {
		bits, err := json.Marshal(tx)
		if err != nil {
			return errors.Wrapf(err, "marshaling tx %s", tx.ID)
		}
		batch.Put(ldbKey(ldbTx, tx.ID), bits)
	}
	if cs.Slot != nil {
		bits, err := json.Marshal(cs.Slot)
		if err != nil {
			return errors.Wrapf(err, "marshaling slot %d", cs.Slot.Height)
		}
		batch.Put(ldbHeight(ldbSlot, cs.Slot.Height), bits)
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], cs.Slot.Height)
		batch.Put(ldbHeightKey, h[:])
	}
	return errors.Wrap(l.db.Write(batch, nil), "writing changeset batch")
}

func (l *LevelDB) Pin(_ context.Context, name string) (uint64, error) {
	bits, err := l.db.Get(ldbKey(ldbPin, name), nil)
	if err == leveldb.ErrNotFound {
		var zero [8]byte
		err = l.db.Put(ldbKey(ldbPin, name), zero[:], nil)
		return 0, errors.Wrapf(err, "creating pin %s", name)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reading pin %s", name)
	}
	return binary.BigEndian.Uint64(bits), nil
}

func (l *LevelDB) SetPin(_ context.Context, name string, height uint64) error {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return errors.Wrapf(l.db.Put(ldbKey(ldbPin, name), h[:], nil), "updating pin %s", name)
}

func (l *LevelDB) MarkFinalized(ctx context.Context, thru uint64) error {
	var from uint64
	bits, err := l.db.Get(ldbFinalizedKey, nil)
	if err == nil {
		from = binary.BigEndian.Uint64(bits)
	} else if err != leveldb.ErrNotFound {
		return errors.Wrap(err, "reading finalized height")
	}
	if thru <= from {
		return nil
	}

	batch := new(leveldb.Batch)
	for height := from + 1; height <= thru; height++ {
		txs, err := l.SlotTxs(ctx, height)
		if errors.Root(err) == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		for _, tx := range txs {
			tx.Finalized = true
			bits, err := json.Marshal(tx)
			if err != nil {
				return errors.Wrapf(err, "marshaling tx %s", tx.ID)
			}
			batch.Put(ldbKey(ldbTx, tx.ID), bits)
		}
	}
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], thru)
	batch.Put(ldbFinalizedKey, h[:])
	return errors.Wrap(l.db.Write(batch, nil), "writing finalized batch")
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
