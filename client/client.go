// Package client talks to a validator's HTTP API: building, signing,
// submitting, and confirming record transactions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chain/txvm/crypto/ed25519"
	"github.com/chain/txvm/errors"
	i10rnet "github.com/interstellar/starlight/net"
	"github.com/mr-tron/base58"
	cache "github.com/patrickmn/go-cache"

	ledger "github.com/PhoenixWild29/secureai-ledger"
	"github.com/PhoenixWild29/secureai-ledger/record"
	"github.com/PhoenixWild29/secureai-ledger/store"
	"github.com/PhoenixWild29/secureai-ledger/wallet"
)

// ErrNotFound is returned for lookups the node answers 404 to;
// ErrRequestFailed for every other non-2xx response.
var (
	ErrNotFound      = errors.New("not found")
	ErrRequestFailed = errors.New("request failed")
)

// Client reaches one validator node.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	programID string
	verified  *cache.Cache
}

// New returns a client for the node at baseURL submitting to the given
// program, or to the default program when programID is empty.
func New(baseURL, programID string) *Client {
	if programID == "" {
		programID = ledger.DefaultProgramID()
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		programID: programID,
		verified:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (c *Client) ProgramID() string { return c.programID }

// BuildCreate builds and signs a transaction storing a fresh record in
// a new storage account.
func (c *Client) BuildCreate(storage, payer *wallet.Keypair, contentHash string, score uint64) (*ledger.RawTx, error) {
	m := &ledger.Message{
		ProgramID: c.programID,
		Op:        ledger.OpCreate,
		Args:      ledger.Args{ContentHash: contentHash, AuthenticityScore: score},
		Accounts: []ledger.AccountMeta{
			{Address: storage.Address(), Signer: true, Writable: true},
			{Address: payer.Address(), Signer: true, Writable: true},
			{Address: ledger.SystemOwner},
		},
		Nonce: rand.Uint64(),
	}
	return ledger.NewTx(m, storage.Priv, payer.Priv)
}

// BuildOverwrite builds and signs a transaction replacing the record in
// an existing storage account.
func (c *Client) BuildOverwrite(storageAddr string, payer *wallet.Keypair, contentHash string, score uint64) (*ledger.RawTx, error) {
	m := &ledger.Message{
		ProgramID: c.programID,
		Op:        ledger.OpOverwrite,
		Args:      ledger.Args{ContentHash: contentHash, AuthenticityScore: score},
		Accounts: []ledger.AccountMeta{
			{Address: storageAddr, Writable: true},
			{Address: payer.Address(), Signer: true, Writable: true},
		},
		Nonce: rand.Uint64(),
	}
	return ledger.NewTx(m, payer.Priv)
}

// Submit queues a transaction and returns its ID without waiting for a
// slot.
func (c *Client) Submit(ctx context.Context, tx *ledger.RawTx) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/submit", tx, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SubmitWait submits a transaction and blocks until it lands in a slot,
// returning the stored result. A result with a failed status is not an
// error here; callers check Status and Err.
func (c *Client) SubmitWait(ctx context.Context, tx *ledger.RawTx) (*store.Tx, error) {
	var result store.Tx
	err := c.post(ctx, "/submit?wait=1", tx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordInfo is a storage account's decoded record with its history.
type RecordInfo struct {
	Address     string        `json:"address"`
	Record      record.Record `json:"record"`
	Creator     string        `json:"creator"`
	CreatedSlot uint64        `json:"created_slot"`
	UpdatedSlot uint64        `json:"updated_slot"`
}

// Record fetches the decoded record held by a storage account.
func (c *Client) Record(ctx context.Context, address string) (*RecordInfo, error) {
	var info RecordInfo
	err := c.get(ctx, "/record", url.Values{"address": {address}}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Account fetches raw host-level account state.
func (c *Client) Account(ctx context.Context, address string) (*store.Account, error) {
	var acct store.Account
	err := c.get(ctx, "/account", url.Values{"address": {address}}, &acct)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// TxInfo is a stored transaction result with its confirmation status.
type TxInfo struct {
	store.Tx
	ConfirmationStatus string `json:"confirmation_status"`
}

// Tx fetches one transaction result by ID.
func (c *Client) Tx(ctx context.Context, id string) (*TxInfo, error) {
	var info TxInfo
	err := c.get(ctx, "/tx", url.Values{"id": {id}}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Slot fetches one slot with its transaction results. Height 0 means
// the latest slot.
func (c *Client) Slot(ctx context.Context, height uint64) (*ledger.SlotEvent, error) {
	var ev ledger.SlotEvent
	err := c.get(ctx, "/slot", url.Values{"height": {uintStr(height)}}, &ev)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Status is the node's health report.
type Status struct {
	Status         string  `json:"status"`
	Slot           uint64  `json:"slot"`
	ProgramID      string  `json:"program_id"`
	Policy         string  `json:"policy"`
	NodeCount      int     `json:"node_count"`
	ResponseTimeMS float64 `json:"response_time_ms"`
	TimestampMS    int64   `json:"timestamp_ms"`
}

// Status fetches the node's health report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	err := c.get(ctx, "/status", nil, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Airdrop asks the node's faucet to credit an account.
func (c *Client) Airdrop(ctx context.Context, address string, lamports uint64) (*store.Account, error) {
	var acct store.Account
	err := c.post(ctx, "/airdrop", ledger.AirdropRequest{Address: address, Lamports: lamports}, &acct)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Confirm polls for a transaction until it lands. With finalized set it
// keeps polling until enough slots have built on top. Polling backs off
// exponentially; cancel ctx to give up.
func (c *Client) Confirm(ctx context.Context, id string, finalized bool) (*TxInfo, error) {
	backoff := &i10rnet.Backoff{Base: 100 * time.Millisecond}
	for {
		info, err := c.Tx(ctx, id)
		if err != nil && errors.Root(err) != ErrNotFound {
			return nil, err
		}
		if err == nil && (!finalized || info.ConfirmationStatus == "finalized") {
			return info, nil
		}

		timer := time.NewTimer(backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrapf(ctx.Err(), "waiting for tx %s", id)
		case <-timer.C:
		}
	}
}

// VerifyTx reports whether sig names a real transaction on the node:
// well formed, and present in a slot. Verdicts are cached for a few
// minutes, so bursts of checks for one signature cost one request.
func (c *Client) VerifyTx(ctx context.Context, sig string) (bool, error) {
	if v, ok := c.verified.Get(sig); ok {
		return v.(bool), nil
	}
	raw, err := base58.Decode(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		c.verified.SetDefault(sig, false)
		return false, nil
	}
	_, err = c.Tx(ctx, sig)
	if errors.Root(err) == ErrNotFound {
		c.verified.SetDefault(sig, false)
		return false, nil
	}
	if err != nil {
		// Transport trouble is not a verdict. Leave the cache alone.
		return false, err
	}
	c.verified.SetDefault(sig, true)
	return true, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dst interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return errors.Wrapf(err, "building request for %s", path)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "getting %s", path)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func (c *Client) post(ctx context.Context, path string, body, dst interface{}) error {
	bits, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshaling request body")
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(bits))
	if err != nil {
		return errors.Wrapf(err, "building request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posting to %s", path)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func decodeResponse(resp *http.Response, dst interface{}) error {
	bits, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response body")
	}
	if resp.StatusCode/100 != 2 {
		msg := string(bits)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bits, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Wrap(ErrNotFound, msg)
		}
		return errors.Wrapf(ErrRequestFailed, "%d: %s", resp.StatusCode, msg)
	}
	if dst == nil {
		return nil
	}
	err = json.Unmarshal(bits, dst)
	if err != nil {
		return errors.Wrapf(err, "decoding response %s", bits)
	}
	return nil
}

func uintStr(u uint64) string {
	return strconv.FormatUint(u, 10)
}
