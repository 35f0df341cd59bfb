package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/bobg/multichan"
	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/net"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

// SlotEvent pairs a closed slot with its transaction results. It is
// what the submitter broadcasts to waiters and followers, and what the
// slot endpoint serves.
type SlotEvent struct {
	Slot *store.Slot `json:"slot"`
	Txs  []*store.Tx `json:"txs"`
}

// submitter queues incoming transactions and closes them into slots.
// The first transaction after an idle period arms the slot timer; after
// the interval the pending queue is executed in arrival order and
// committed atomically. Slot production continues until finality
// catches up with the last busy slot, then goes idle.
type submitter struct {
	ctx      context.Context // stops slot production when canceled
	store    store.Store
	runtime  *Runtime
	interval time.Duration
	depth    uint64
	log      *logger.L

	w *multichan.W // of *SlotEvent

	mu       sync.Mutex
	pending  []*RawTx
	ids      map[string]bool
	building bool
	height   uint64
	parent   []byte
	lastBusy uint64
}

func newSubmitter(ctx context.Context, s store.Store, rt *Runtime, interval time.Duration, depth uint64) (*submitter, error) {
	height, err := s.Height(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting chain height")
	}
	parent := make([]byte, 32)
	if height > 0 {
		sl, err := s.Slot(ctx, height)
		if err != nil {
			return nil, errors.Wrapf(err, "getting slot %d", height)
		}
		parent = sl.Hash
	}
	return &submitter{
		ctx:      ctx,
		store:    s,
		runtime:  rt,
		interval: interval,
		depth:    depth,
		log:      logger.New("submitter"),
		w:        multichan.New((*SlotEvent)(nil)),
		ids:      make(map[string]bool),
		height:   height,
		parent:   parent,
		lastBusy: height,
	}, nil
}

// ServeHTTP accepts a transaction and queues it for the next slot. With
// wait=1 it blocks until the transaction lands and responds with the
// stored result; otherwise it responds with the transaction ID.
func (s *submitter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	bits, err := io.ReadAll(req.Body)
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading request body: %s", err)
		return
	}
	var raw RawTx
	err = json.Unmarshal(bits, &raw)
	if err != nil {
		net.Errorf(w, http.StatusBadRequest, "parsing request body: %s", err)
		return
	}
	m, err := raw.ParseMessage()
	if err != nil {
		net.Errorf(w, http.StatusBadRequest, "building tx: %s", err)
		return
	}
	err = raw.VerifySigs(m)
	if err != nil {
		net.Errorf(w, http.StatusBadRequest, "verifying tx: %s", err)
		return
	}
	if m.ProgramID != s.runtime.ProgramID() {
		net.Errorf(w, http.StatusBadRequest, "unknown program %s", m.ProgramID)
		return
	}

	id := raw.ID()
	_, err = s.store.Tx(ctx, id)
	if err == nil {
		net.Errorf(w, http.StatusBadRequest, "duplicate transaction %s", id)
		return
	}
	if errors.Root(err) != store.ErrNotFound {
		net.Errorf(w, http.StatusInternalServerError, "checking tx %s: %s", id, err)
		return
	}

	wait := req.URL.Query().Get("wait") == "1"
	var r *multichan.R

	s.mu.Lock()
	if s.ids[id] {
		s.mu.Unlock()
		net.Errorf(w, http.StatusBadRequest, "duplicate transaction %s", id)
		return
	}
	s.ids[id] = true
	s.pending = append(s.pending, &raw)
	if wait {
		r = s.w.Reader()
	}
	s.schedule()
	s.mu.Unlock()
	s.log.Debugf("added tx %s to the pending slot", id)

	if !wait {
		net.WriteJSON(w, map[string]string{"id": id})
		return
	}
	defer r.Dispose()
	tx, err := s.waitOnTx(ctx, id, r)
	if err != nil {
		net.Errorf(w, http.StatusRequestTimeout, "waiting on tx %s: %s", id, err)
		return
	}
	net.WriteJSON(w, tx)
}

// schedule arms the slot timer. Callers must hold mu.
func (s *submitter) schedule() {
	if s.building {
		return
	}
	s.building = true
	closeAt := time.Now().Add(s.interval)
	s.log.Infof("starting slot %d, will close at %s", s.height+1, closeAt)
	time.AfterFunc(s.interval, s.buildSlot)
}

func (s *submitter) buildSlot() {
	ctx := s.ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	s.building = false
	if ctx.Err() != nil {
		return
	}
	pending := s.pending
	s.pending = nil

	height := s.height + 1
	nowMS := time.Now().UnixMilli()

	view := newOverlay(s.store)
	txs := make([]*store.Tx, 0, len(pending))
	ids := make([]string, 0, len(pending))
	for i, raw := range pending {
		tx, accounts, err := s.runtime.ExecTx(ctx, view, raw, height, nowMS, i)
		if err != nil {
			s.log.Warnf("tx %s failed: %s", tx.ID, err)
		}
		view.stage(accounts)
		txs = append(txs, tx)
		ids = append(ids, tx.ID)
		delete(s.ids, tx.ID)
	}

	slot := &store.Slot{
		Height: height,
		Hash:   slotHash(s.parent, ids),
		Parent: s.parent,
		TimeMS: nowMS,
		TxIDs:  ids,
	}
	err := s.store.Apply(ctx, store.Changeset{Slot: slot, Txs: txs, Accounts: view.touched()})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Panicf("committing slot %d: %s", height, err)
	}

	s.height = height
	s.parent = slot.Hash
	if len(txs) > 0 {
		s.lastBusy = height
	}

	s.w.Write(&SlotEvent{Slot: slot, Txs: txs})
	s.log.Infof("closed slot %d with %d transaction(s)", height, len(txs))

	if len(s.pending) > 0 || s.height < s.lastBusy+s.depth {
		s.schedule()
	}
}

// waitOnTx blocks until the transaction with the given ID lands in a
// slot, returning its stored result. r must have been created before
// the transaction was queued; the caller disposes it.
func (s *submitter) waitOnTx(ctx context.Context, id string, r *multichan.R) (*store.Tx, error) {
	for {
		x, ok := r.Read(ctx)
		if !ok {
			return nil, errors.Wrapf(ctx.Err(), "waiting on tx %s", id)
		}
		ev := x.(*SlotEvent)
		for _, tx := range ev.Txs {
			if tx.ID == id {
				return tx, nil
			}
		}
	}
}

// Height is the height of the latest closed slot.
func (s *submitter) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// Reader subscribes to slot events from this point on.
func (s *submitter) Reader() *multichan.R {
	return s.w.Reader()
}

func slotHash(parent []byte, ids []string) []byte {
	h := sha256.New()
	h.Write(parent)
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return h.Sum(nil)
}
