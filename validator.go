package ledger

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/bitmark-inc/logger"
	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/policy"
	"github.com/PhoenixWild29/secureai-ledger/store"
	"github.com/PhoenixWild29/secureai-ledger/wallet"
)

// Validator owns one node: its identity, the runtime, the submitter,
// and the HTTP API.
type Validator struct {
	Store    store.Store
	S        *submitter
	Identity *wallet.Keypair

	runtime   *Runtime
	faucetCap uint64
	depth     uint64
	log       *logger.L
	faucetMu  sync.Mutex
}

// GetValidator assembles a validator on s, loading or creating the node
// identity and wiring the runtime and submitter from cfg.
func GetValidator(ctx context.Context, s store.Store, cfg *Config) (*Validator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := logger.New("validator")

	pol, err := policy.Parse(cfg.Policy)
	if err != nil {
		return nil, errors.Wrap(err, "parsing access policy")
	}

	identity, err := loadIdentity(cfg.IdentityPath, log)
	if err != nil {
		return nil, errors.Wrap(err, "loading validator identity")
	}

	tracer := cfg.Tracer
	if tracer == nil {
		plog := logger.New("program")
		tracer = TracerFunc(func(format string, args ...interface{}) {
			plog.Infof(format, args...)
		})
	}

	rt := NewRuntime(cfg.ProgramID, pol, tracer)
	sub, err := newSubmitter(ctx, s, rt, cfg.SlotInterval.D(), cfg.FinalityDepth)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		Store:     s,
		S:         sub,
		Identity:  identity,
		runtime:   rt,
		faucetCap: cfg.FaucetCap,
		depth:     cfg.FinalityDepth,
		log:       log,
	}

	_, err = s.Account(ctx, identity.Address())
	if errors.Root(err) == store.ErrNotFound {
		err = s.PutAccount(ctx, &store.Account{Address: identity.Address(), Owner: SystemOwner, Data: []byte{}})
	}
	if err != nil {
		return nil, errors.Wrap(err, "storing validator identity account")
	}

	log.Infof("validator %s serving program %s with %s policy", identity.Address(), rt.ProgramID(), pol.Name())
	return v, nil
}

// loadIdentity loads the keypair at path, generating and saving a fresh
// one the first time. An empty path yields an ephemeral identity.
func loadIdentity(path string, log *logger.L) (*wallet.Keypair, error) {
	if path == "" {
		return wallet.Generate()
	}
	k, err := wallet.Load(path)
	if err == nil {
		log.Infof("using preexisting validator identity %s", k.Address())
		return k, nil
	}
	if !os.IsNotExist(errors.Root(err)) {
		return nil, err
	}
	k, err = wallet.Generate()
	if err != nil {
		return nil, err
	}
	err = wallet.Save(path, k)
	if err != nil {
		return nil, err
	}
	log.Infof("generated new validator identity %s", k.Address())
	return k, nil
}

// Mux returns the validator's HTTP API.
func (v *Validator) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/submit", v.S)
	mux.HandleFunc("/slot", v.GetSlot)
	mux.HandleFunc("/record", v.GetRecord)
	mux.HandleFunc("/account", v.GetAccount)
	mux.HandleFunc("/tx", v.GetTx)
	mux.HandleFunc("/status", v.GetStatus)
	mux.HandleFunc("/airdrop", v.Airdrop)
	return mux
}

// SetPolicy swaps the active overwrite policy.
func (v *Validator) SetPolicy(pol policy.Policy) {
	v.runtime.SetPolicy(pol)
	v.log.Infof("access policy now %s", pol.Name())
}

// ProgramID is the address of the record program this validator runs.
func (v *Validator) ProgramID() string {
	return v.runtime.ProgramID()
}
