package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/policy"
	"github.com/PhoenixWild29/secureai-ledger/record"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

// accountSource is the state view a transaction executes against.
type accountSource interface {
	Account(ctx context.Context, addr string) (*store.Account, error)
}

// Runtime executes transactions one at a time: verify signatures,
// resolve accounts into staged copies, run the host checks and the
// record transition, and hand the staged effects back for an atomic
// commit. A failed transaction stages nothing.
type Runtime struct {
	programID string
	tracer    Tracer

	mu  sync.RWMutex
	pol policy.Policy
}

func NewRuntime(programID string, pol policy.Policy, tracer Tracer) *Runtime {
	if tracer == nil {
		tracer = TracerFunc(func(string, ...interface{}) {})
	}
	return &Runtime{programID: programID, pol: pol, tracer: tracer}
}

func (r *Runtime) ProgramID() string { return r.programID }

// SetPolicy swaps the overwrite policy. Safe to call while slots are
// being built; each transaction reads the policy once.
func (r *Runtime) SetPolicy(pol policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pol = pol
}

func (r *Runtime) Policy() policy.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pol
}

// ExecTx executes one transaction against view for the slot at height.
// It always returns a storable result; on success it also returns the
// staged accounts to commit, and on failure it returns the full error
// for the caller's logs while the result records only the root cause.
func (r *Runtime) ExecTx(ctx context.Context, view accountSource, raw *RawTx, height uint64, nowMS int64, index int) (*store.Tx, []*store.Account, error) {
	rawBits, _ := json.Marshal(raw)
	result := &store.Tx{
		ID:     raw.ID(),
		Slot:   height,
		Index:  index,
		Status: store.TxOK,
		Log:    []string{},
		Raw:    rawBits,
		TimeMS: nowMS,
	}

	accounts, log, err := r.exec(ctx, view, raw, height, nowMS)
	if err != nil {
		result.Status = store.TxFailed
		result.Err = errors.Root(err).Error()
		return result, nil, err
	}
	result.Log = log
	for _, line := range log {
		r.tracer.Logf("%s", line)
	}
	return result, accounts, nil
}

func (r *Runtime) exec(ctx context.Context, view accountSource, raw *RawTx, height uint64, nowMS int64) ([]*store.Account, []string, error) {
	m, err := raw.ParseMessage()
	if err != nil {
		return nil, nil, err
	}
	if m.ExpiresMS > 0 && nowMS > m.ExpiresMS {
		return nil, nil, errors.Wrapf(ErrTxExpired, "expired at %d, slot time is %d", m.ExpiresMS, nowMS)
	}
	err = raw.VerifySigs(m)
	if err != nil {
		return nil, nil, err
	}
	if m.ProgramID != r.programID {
		return nil, nil, errors.Wrapf(ErrUnknownProgram, "%s", m.ProgramID)
	}
	switch m.Op {
	case OpCreate:
		return r.execCreate(ctx, view, m, height)
	case OpOverwrite:
		return r.execOverwrite(ctx, view, m, height)
	}
	return nil, nil, errors.Wrapf(ErrUnknownOp, "%q", m.Op)
}

func (r *Runtime) execCreate(ctx context.Context, view accountSource, m *Message, height uint64) ([]*store.Account, []string, error) {
	if len(m.Accounts) < 3 {
		return nil, nil, errors.Wrapf(ErrBadTx, "create needs storage, payer, and system accounts, got %d", len(m.Accounts))
	}
	storageMeta, payerMeta, sysMeta := m.Accounts[0], m.Accounts[1], m.Accounts[2]
	if sysMeta.Address != SystemOwner {
		return nil, nil, errors.Wrap(ErrBadTx, "third create account must be the system program")
	}
	if !storageMeta.Signer || !storageMeta.Writable {
		return nil, nil, errors.Wrapf(ErrAuthorizationFailed, "storage account %s must sign its own creation and be writable", storageMeta.Address)
	}
	if !payerMeta.Signer || !payerMeta.Writable {
		return nil, nil, errors.Wrapf(ErrAuthorizationFailed, "payer account %s must sign and be writable", payerMeta.Address)
	}
	if storageMeta.Address == payerMeta.Address {
		return nil, nil, errors.Wrap(ErrBadTx, "storage and payer accounts must differ")
	}

	payer, err := view.Account(ctx, payerMeta.Address)
	if errors.Root(err) == store.ErrNotFound {
		return nil, nil, errors.Wrapf(ErrInsufficientFunds, "payer account %s does not exist", payerMeta.Address)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading payer account")
	}

	storage, err := view.Account(ctx, storageMeta.Address)
	if errors.Root(err) == store.ErrNotFound {
		storage = &store.Account{Address: storageMeta.Address}
	} else if err != nil {
		return nil, nil, errors.Wrap(err, "loading storage account")
	}
	if record.Initialized(storage.Data) {
		return nil, nil, errors.Wrapf(record.ErrAlreadyInitialized, "storage account %s", storageMeta.Address)
	}
	if len(storage.Data) != record.EnvelopeLen {
		storage.Data = make([]byte, record.EnvelopeLen)
	}

	rent := RentExemptMinimum(record.EnvelopeLen)
	fee := uint64(len(m.Signers())) * FeePerSignature
	if payer.Lamports < rent+fee {
		return nil, nil, errors.Wrapf(ErrInsufficientFunds, "payer %s has %d lamports, create needs %d", payerMeta.Address, payer.Lamports, rent+fee)
	}

	err = record.Create(storage.Data, record.Record{ContentHash: m.Args.ContentHash, AuthenticityScore: m.Args.AuthenticityScore})
	if err != nil {
		return nil, nil, err
	}

	payer.Lamports -= rent + fee
	storage.Lamports += rent
	storage.Owner = r.programID
	storage.Creator = payerMeta.Address
	storage.CreatedSlot = height
	storage.UpdatedSlot = height

	log := []string{fmt.Sprintf("Stored content hash: %s and authenticity score: %d!", m.Args.ContentHash, m.Args.AuthenticityScore)}
	return []*store.Account{storage, payer}, log, nil
}

func (r *Runtime) execOverwrite(ctx context.Context, view accountSource, m *Message, height uint64) ([]*store.Account, []string, error) {
	if len(m.Accounts) == 0 {
		return nil, nil, errors.Wrap(ErrBadTx, "overwrite needs a storage account")
	}
	storageMeta := m.Accounts[0]
	if !storageMeta.Writable {
		return nil, nil, errors.Wrapf(ErrAuthorizationFailed, "storage account %s must be writable", storageMeta.Address)
	}
	payerAddr := m.FeePayer()

	storage, err := view.Account(ctx, storageMeta.Address)
	if errors.Root(err) == store.ErrNotFound {
		return nil, nil, errors.Wrapf(record.ErrNotInitialized, "storage account %s does not exist", storageMeta.Address)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading storage account")
	}
	if storage.Owner != r.programID {
		return nil, nil, errors.Wrapf(ErrAuthorizationFailed, "storage account %s is owned by %s", storageMeta.Address, storage.Owner)
	}

	err = r.Policy().AllowOverwrite(payerAddr, storage.Creator)
	if err != nil {
		return nil, nil, errors.Wrap(ErrAuthorizationFailed, err.Error())
	}

	payer := storage
	if payerAddr != storageMeta.Address {
		payer, err = view.Account(ctx, payerAddr)
		if errors.Root(err) == store.ErrNotFound {
			return nil, nil, errors.Wrapf(ErrInsufficientFunds, "payer account %s does not exist", payerAddr)
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "loading payer account")
		}
	}
	fee := uint64(len(m.Signers())) * FeePerSignature
	if payer.Lamports < fee {
		return nil, nil, errors.Wrapf(ErrInsufficientFunds, "payer %s has %d lamports, fee is %d", payerAddr, payer.Lamports, fee)
	}

	err = record.Overwrite(storage.Data, record.Record{ContentHash: m.Args.ContentHash, AuthenticityScore: m.Args.AuthenticityScore})
	if err != nil {
		return nil, nil, err
	}

	payer.Lamports -= fee
	storage.UpdatedSlot = height

	log := []string{fmt.Sprintf("Updated content hash: %s and authenticity score: %d!", m.Args.ContentHash, m.Args.AuthenticityScore)}
	accounts := []*store.Account{storage}
	if payer != storage {
		accounts = append(accounts, payer)
	}
	return accounts, log, nil
}

// overlay layers the staged effects of earlier transactions in a slot
// over committed store state, so later transactions in the same slot
// see them before anything commits.
type overlay struct {
	base   accountSource
	staged map[string]*store.Account
	order  []string
}

func newOverlay(base accountSource) *overlay {
	return &overlay{base: base, staged: make(map[string]*store.Account)}
}

func (o *overlay) Account(ctx context.Context, addr string) (*store.Account, error) {
	if acct, ok := o.staged[addr]; ok {
		return acct.Clone(), nil
	}
	return o.base.Account(ctx, addr)
}

func (o *overlay) stage(accounts []*store.Account) {
	for _, acct := range accounts {
		if _, ok := o.staged[acct.Address]; !ok {
			o.order = append(o.order, acct.Address)
		}
		o.staged[acct.Address] = acct
	}
}

// touched returns the staged accounts in first-touch order.
func (o *overlay) touched() []*store.Account {
	accounts := make([]*store.Account, 0, len(o.order))
	for _, addr := range o.order {
		accounts = append(accounts, o.staged[addr])
	}
	return accounts
}
