package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/net"
	"github.com/PhoenixWild29/secureai-ledger/record"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

// GetSlot serves one slot with its transaction results. Requests for a
// height the chain has not reached yet block until it closes.
func (v *Validator) GetSlot(w http.ResponseWriter, req *http.Request) {
	wantStr := req.FormValue("height")
	var (
		want uint64 = 1
		err  error
	)
	if wantStr != "" {
		want, err = strconv.ParseUint(wantStr, 10, 64)
		if err != nil {
			net.Errorf(w, http.StatusBadRequest, "parsing height: %s", err)
			return
		}
	}

	ctx := req.Context()
	height := v.S.Height()
	if want == 0 {
		want = height
	}
	if want > height {
		r := v.S.Reader()
		defer r.Dispose()
		for v.S.Height() < want {
			x, ok := r.Read(ctx)
			if !ok {
				net.Errorf(w, http.StatusRequestTimeout, "timed out waiting for slot %d", want)
				return
			}
			if x.(*SlotEvent).Slot.Height >= want {
				break
			}
		}
	}

	sl, err := v.Store.Slot(ctx, want)
	if errors.Root(err) == store.ErrNotFound {
		net.Errorf(w, http.StatusNotFound, "slot %d not found", want)
		return
	}
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "getting slot %d: %s", want, err)
		return
	}
	txs, err := v.Store.SlotTxs(ctx, want)
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "getting txs of slot %d: %s", want, err)
		return
	}
	net.WriteJSON(w, &SlotEvent{Slot: sl, Txs: txs})
}

type recordResponse struct {
	Address     string        `json:"address"`
	Record      record.Record `json:"record"`
	Creator     string        `json:"creator"`
	CreatedSlot uint64        `json:"created_slot"`
	UpdatedSlot uint64        `json:"updated_slot"`
}

// GetRecord serves the decoded record held by one storage account.
func (v *Validator) GetRecord(w http.ResponseWriter, req *http.Request) {
	addr := req.FormValue("address")
	if addr == "" {
		net.Errorf(w, http.StatusBadRequest, "missing address parameter")
		return
	}
	acct, err := v.Store.Account(req.Context(), addr)
	if errors.Root(err) == store.ErrNotFound {
		net.Errorf(w, http.StatusNotFound, "account %s not found", addr)
		return
	}
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading account %s: %s", addr, err)
		return
	}
	rec, err := record.Read(acct.Data)
	if err != nil {
		net.Errorf(w, http.StatusNotFound, "reading record of %s: %s", addr, errors.Root(err))
		return
	}
	net.WriteJSON(w, recordResponse{
		Address:     acct.Address,
		Record:      rec,
		Creator:     acct.Creator,
		CreatedSlot: acct.CreatedSlot,
		UpdatedSlot: acct.UpdatedSlot,
	})
}

// GetAccount serves raw host-level account state.
func (v *Validator) GetAccount(w http.ResponseWriter, req *http.Request) {
	addr := req.FormValue("address")
	if addr == "" {
		net.Errorf(w, http.StatusBadRequest, "missing address parameter")
		return
	}
	acct, err := v.Store.Account(req.Context(), addr)
	if errors.Root(err) == store.ErrNotFound {
		net.Errorf(w, http.StatusNotFound, "account %s not found", addr)
		return
	}
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading account %s: %s", addr, err)
		return
	}
	net.WriteJSON(w, acct)
}

type txResponse struct {
	*store.Tx
	ConfirmationStatus string `json:"confirmation_status"`
}

// GetTx serves a stored transaction result with its confirmation
// status: processed once it lands, finalized once enough slots build
// on top.
func (v *Validator) GetTx(w http.ResponseWriter, req *http.Request) {
	id := req.FormValue("id")
	if id == "" {
		net.Errorf(w, http.StatusBadRequest, "missing id parameter")
		return
	}
	tx, err := v.Store.Tx(req.Context(), id)
	if errors.Root(err) == store.ErrNotFound {
		net.Errorf(w, http.StatusNotFound, "tx %s not found", id)
		return
	}
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading tx %s: %s", id, err)
		return
	}
	status := "processed"
	if tx.Finalized {
		status = "finalized"
	}
	net.WriteJSON(w, txResponse{Tx: tx, ConfirmationStatus: status})
}

type statusResponse struct {
	Status         string  `json:"status"`
	Slot           uint64  `json:"slot"`
	ProgramID      string  `json:"program_id"`
	Policy         string  `json:"policy"`
	NodeCount      int     `json:"node_count"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	TimestampMS    int64   `json:"timestamp_ms"`
}

// GetStatus reports node health, the current slot, and the configured
// program and policy.
func (v *Validator) GetStatus(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	height, err := v.Store.Height(req.Context())
	if err != nil {
		net.Errorf(w, http.StatusInternalServerError, "reading chain height: %s", err)
		return
	}
	net.WriteJSON(w, statusResponse{
		Status:         "healthy",
		Slot:           height,
		ProgramID:      v.runtime.ProgramID(),
		Policy:         v.runtime.Policy().Name(),
		NodeCount:      1,
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
		TimestampMS:    time.Now().UnixMilli(),
	})
}
