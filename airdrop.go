package ledger

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/net"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

// AirdropRequest asks the faucet to credit an account.
type AirdropRequest struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
}

// Airdrop credits the requested account out of thin air, devnet style.
// Requests above the per-call cap are rejected. The credit takes effect
// immediately rather than waiting for a slot.
func (v *Validator) Airdrop(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	data, err := io.ReadAll(req.Body)
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading request body: %s", err)
		return
	}
	var a AirdropRequest
	err = json.Unmarshal(data, &a)
	if err != nil {
		net.Errorf(w, http.StatusBadRequest, "parsing request body: %s", err)
		return
	}
	if _, err = DecodeAddress(a.Address); err != nil {
		net.Errorf(w, http.StatusBadRequest, "bad address %q: %s", a.Address, err)
		return
	}
	if a.Lamports == 0 || a.Lamports > v.faucetCap {
		net.Errorf(w, http.StatusBadRequest, "airdrop of %d lamports outside faucet limit %d", a.Lamports, v.faucetCap)
		return
	}

	v.faucetMu.Lock()
	defer v.faucetMu.Unlock()

	acct, err := v.Store.Account(ctx, a.Address)
	if errors.Root(err) == store.ErrNotFound {
		acct = &store.Account{Address: a.Address, Owner: SystemOwner, Data: []byte{}}
	} else if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading account %s: %s", a.Address, err)
		return
	}
	acct.Lamports += a.Lamports
	err = v.Store.PutAccount(ctx, acct)
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "crediting account %s: %s", a.Address, err)
		return
	}
	v.log.Infof("airdropped %d lamports to %s", a.Lamports, a.Address)
	net.WriteJSON(w, acct)
}
