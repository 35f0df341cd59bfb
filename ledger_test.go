package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/PhoenixWild29/secureai-ledger/record"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "ledger-test-log")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	err = logger.Initialise(logger.Configuration{
		Directory: dir,
		File:      "test.log",
		Size:      1048576,
		Count:     10,
		Levels:    map[string]string{logger.DefaultTag: "critical"},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rc := m.Run()
	logger.Finalise()
	os.RemoveAll(dir)
	os.Exit(rc)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SlotInterval = Duration(25 * time.Millisecond)
	cfg.FinalityDepth = 2
	cfg.IdentityPath = ""
	return cfg
}

func withTestServer(ctx context.Context, t *testing.T, cfg *Config, fn func(context.Context, *Validator, *httptest.Server)) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	ctx, cancel := context.WithCancel(ctx)
	s, err := store.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	defer s.Close()
	// Stop slot production before the store goes away.
	defer cancel()

	v, err := GetValidator(ctx, s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(v.Mux())
	defer server.Close()

	fn(ctx, v, server)
}

func postJSON(t *testing.T, url string, body interface{}) (int, []byte) {
	t.Helper()
	bits, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(bits))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, got
}

func getJSON(t *testing.T, url string, dst interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode == http.StatusOK && dst != nil {
		err = json.Unmarshal(got, dst)
		if err != nil {
			t.Fatalf("decoding %s: %s", got, err)
		}
	}
	return resp.StatusCode
}

func airdrop(t *testing.T, serverURL, addr string, lamports uint64) {
	t.Helper()
	code, body := postJSON(t, serverURL+"/airdrop", AirdropRequest{Address: addr, Lamports: lamports})
	if code != http.StatusOK {
		t.Fatalf("airdrop returned %d: %s", code, body)
	}
}

func submitWait(t *testing.T, serverURL string, tx *RawTx) *store.Tx {
	t.Helper()
	code, body := postJSON(t, serverURL+"/submit?wait=1", tx)
	if code != http.StatusOK {
		t.Fatalf("submit returned %d: %s", code, body)
	}
	var result store.Tx
	err := json.Unmarshal(body, &result)
	if err != nil {
		t.Fatal(err)
	}
	return &result
}

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestCreateAndOverwrite(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		rent := RentExemptMinimum(record.EnvelopeLen)

		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), rent+10000000)
		storage := testKeypair(t)

		result := submitWait(t, server.URL, createTx(t, programID, storage, payer, testHash, 87))
		if result.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", result.Status, result.Err)
		}
		if result.Slot == 0 {
			t.Fatal("create landed in slot 0")
		}

		var rec recordResponse
		code := getJSON(t, server.URL+"/record?address="+storage.Address(), &rec)
		if code != http.StatusOK {
			t.Fatalf("record endpoint returned %d", code)
		}
		if rec.Record.ContentHash != testHash || rec.Record.AuthenticityScore != 87 {
			t.Errorf("got record %+v", rec.Record)
		}
		if rec.Creator != payer.Address() {
			t.Errorf("got creator %s, want %s", rec.Creator, payer.Address())
		}
		if rec.CreatedSlot != result.Slot || rec.UpdatedSlot != result.Slot {
			t.Errorf("got slots created=%d updated=%d, want %d", rec.CreatedSlot, rec.UpdatedSlot, result.Slot)
		}

		var acct store.Account
		code = getJSON(t, server.URL+"/account?address="+storage.Address(), &acct)
		if code != http.StatusOK {
			t.Fatalf("account endpoint returned %d", code)
		}
		if acct.Lamports != rent {
			t.Errorf("storage account holds %d lamports, want %d", acct.Lamports, rent)
		}
		if acct.Owner != programID {
			t.Errorf("storage account owned by %s", acct.Owner)
		}
		if len(acct.Data) != record.EnvelopeLen {
			t.Errorf("storage account holds %d data bytes, want %d", len(acct.Data), record.EnvelopeLen)
		}

		var txr struct {
			store.Tx
			ConfirmationStatus string `json:"confirmation_status"`
		}
		code = getJSON(t, server.URL+"/tx?id="+result.ID, &txr)
		if code != http.StatusOK {
			t.Fatalf("tx endpoint returned %d", code)
		}
		if txr.ConfirmationStatus != "processed" {
			t.Errorf("got confirmation status %s", txr.ConfirmationStatus)
		}
		wantLog := fmt.Sprintf("Stored content hash: %s and authenticity score: 87!", testHash)
		if len(txr.Log) != 1 || txr.Log[0] != wantLog {
			t.Errorf("got tx log %v", txr.Log)
		}

		// The open policy lets any fee payer overwrite.
		stranger := testKeypair(t)
		airdrop(t, server.URL, stranger.Address(), 1000000)
		result2 := submitWait(t, server.URL, overwriteTx(t, programID, storage.Address(), stranger, "deadbeef", 13))
		if result2.Status != store.TxOK {
			t.Fatalf("overwrite landed with status %s: %s", result2.Status, result2.Err)
		}

		code = getJSON(t, server.URL+"/record?address="+storage.Address(), &rec)
		if code != http.StatusOK {
			t.Fatalf("record endpoint returned %d", code)
		}
		if rec.Record.ContentHash != "deadbeef" || rec.Record.AuthenticityScore != 13 {
			t.Errorf("got record %+v after overwrite", rec.Record)
		}
		if rec.Creator != payer.Address() {
			t.Errorf("overwrite changed creator to %s", rec.Creator)
		}
		if rec.CreatedSlot != result.Slot {
			t.Errorf("overwrite moved created slot to %d", rec.CreatedSlot)
		}
		if rec.UpdatedSlot != result2.Slot {
			t.Errorf("got updated slot %d, want %d", rec.UpdatedSlot, result2.Slot)
		}

		// Creating the same storage account twice fails.
		result3 := submitWait(t, server.URL, createTx(t, programID, storage, payer, "other", 1))
		if result3.Status != store.TxFailed {
			t.Fatalf("second create landed with status %s", result3.Status)
		}
		if result3.Err != record.ErrAlreadyInitialized.Error() {
			t.Errorf("got error %q", result3.Err)
		}

		var ev SlotEvent
		code = getJSON(t, fmt.Sprintf("%s/slot?height=%d", server.URL, result2.Slot), &ev)
		if code != http.StatusOK {
			t.Fatalf("slot endpoint returned %d", code)
		}
		if ev.Slot.Height != result2.Slot {
			t.Errorf("got slot %d", ev.Slot.Height)
		}
		found := false
		for _, tx := range ev.Txs {
			found = found || tx.ID == result2.ID
		}
		if !found {
			t.Errorf("slot %d does not contain tx %s", ev.Slot.Height, result2.ID)
		}

		var st statusResponse
		code = getJSON(t, server.URL+"/status", &st)
		if code != http.StatusOK {
			t.Fatalf("status endpoint returned %d", code)
		}
		if st.Status != "healthy" || st.ProgramID != programID || st.Policy != "open" {
			t.Errorf("got status %+v", st)
		}
	})
}

func TestSubmitNoWait(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), 2*RentExemptMinimum(record.EnvelopeLen))

		tx := createTx(t, programID, testKeypair(t), payer, testHash, 42)
		code, body := postJSON(t, server.URL+"/submit", tx)
		if code != http.StatusOK {
			t.Fatalf("submit returned %d: %s", code, body)
		}
		var resp map[string]string
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatal(err)
		}
		if resp["id"] != tx.ID() {
			t.Fatalf("got id %q, want %q", resp["id"], tx.ID())
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			code := getJSON(t, server.URL+"/tx?id="+tx.ID(), nil)
			if code == http.StatusOK {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("tx %s never landed", tx.ID())
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), 2*RentExemptMinimum(record.EnvelopeLen))

		t.Run("not json", func(t *testing.T) {
			resp, err := http.Post(server.URL+"/submit", "application/json", strings.NewReader("not json"))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("got %d", resp.StatusCode)
			}
		})

		t.Run("bad signature", func(t *testing.T) {
			tx := createTx(t, programID, testKeypair(t), payer, testHash, 1)
			tx.Sigs[0][0] ^= 1
			code, body := postJSON(t, server.URL+"/submit", tx)
			if code != http.StatusBadRequest {
				t.Errorf("got %d: %s", code, body)
			}
		})

		t.Run("unknown program", func(t *testing.T) {
			tx := createTx(t, "Nonsense11111111111111111111111111", testKeypair(t), payer, testHash, 1)
			code, body := postJSON(t, server.URL+"/submit", tx)
			if code != http.StatusBadRequest {
				t.Errorf("got %d: %s", code, body)
			}
		})

		t.Run("duplicate", func(t *testing.T) {
			tx := createTx(t, programID, testKeypair(t), payer, testHash, 7)
			if result := submitWait(t, server.URL, tx); result.Status != store.TxOK {
				t.Fatalf("create landed with status %s: %s", result.Status, result.Err)
			}
			code, body := postJSON(t, server.URL+"/submit", tx)
			if code != http.StatusBadRequest || !strings.Contains(string(body), "duplicate") {
				t.Errorf("got %d: %s", code, body)
			}
		})
	})
}

func TestErrorTaxonomy(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), 2*RentExemptMinimum(record.EnvelopeLen))

		t.Run("overwrite before create", func(t *testing.T) {
			result := submitWait(t, server.URL, overwriteTx(t, programID, testKeypair(t).Address(), payer, "x", 1))
			if result.Status != store.TxFailed || result.Err != record.ErrNotInitialized.Error() {
				t.Errorf("got status %s, error %q", result.Status, result.Err)
			}
		})

		t.Run("hash too long", func(t *testing.T) {
			long := strings.Repeat("f", record.MaxHashLen+1)
			result := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, long, 1))
			if result.Status != store.TxFailed || result.Err != record.ErrCapacityExceeded.Error() {
				t.Errorf("got status %s, error %q", result.Status, result.Err)
			}
		})

		t.Run("broke payer", func(t *testing.T) {
			broke := testKeypair(t)
			airdrop(t, server.URL, broke.Address(), 1)
			result := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), broke, testHash, 1))
			if result.Status != store.TxFailed || result.Err != ErrInsufficientFunds.Error() {
				t.Errorf("got status %s, error %q", result.Status, result.Err)
			}
		})
	})
}

func TestPolicyCreatorOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Policy = "creator"
	withTestServer(ctx, t, cfg, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		creator := testKeypair(t)
		airdrop(t, server.URL, creator.Address(), 2*RentExemptMinimum(record.EnvelopeLen))
		storage := testKeypair(t)

		if result := submitWait(t, server.URL, createTx(t, programID, storage, creator, testHash, 50)); result.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", result.Status, result.Err)
		}

		stranger := testKeypair(t)
		airdrop(t, server.URL, stranger.Address(), 1000000)
		result := submitWait(t, server.URL, overwriteTx(t, programID, storage.Address(), stranger, "hijack", 1))
		if result.Status != store.TxFailed || result.Err != ErrAuthorizationFailed.Error() {
			t.Errorf("got status %s, error %q", result.Status, result.Err)
		}

		if result := submitWait(t, server.URL, overwriteTx(t, programID, storage.Address(), creator, "updated", 60)); result.Status != store.TxOK {
			t.Errorf("creator overwrite landed with status %s: %s", result.Status, result.Err)
		}
	})
}

func TestFinality(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.FinalityDepth = 1
	withTestServer(ctx, t, cfg, func(ctx context.Context, v *Validator, server *httptest.Server) {
		fctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			v.RunFinality(fctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()

		programID := v.runtime.ProgramID()
		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), 2*RentExemptMinimum(record.EnvelopeLen))

		result := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, testHash, 9))
		if result.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", result.Status, result.Err)
		}

		// Slot production continues past the busy slot, so depth 1 is
		// reached without further submissions.
		var txr struct {
			store.Tx
			ConfirmationStatus string `json:"confirmation_status"`
		}
		deadline := time.Now().Add(10 * time.Second)
		for {
			code := getJSON(t, server.URL+"/tx?id="+result.ID, &txr)
			if code == http.StatusOK && txr.ConfirmationStatus == "finalized" {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("tx %s never finalized, status %q", result.ID, txr.ConfirmationStatus)
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestAirdropLimits(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		k := testKeypair(t)

		code, _ := postJSON(t, server.URL+"/airdrop", AirdropRequest{Address: k.Address(), Lamports: 0})
		if code != http.StatusBadRequest {
			t.Errorf("zero airdrop returned %d", code)
		}
		code, _ = postJSON(t, server.URL+"/airdrop", AirdropRequest{Address: k.Address(), Lamports: v.faucetCap + 1})
		if code != http.StatusBadRequest {
			t.Errorf("oversized airdrop returned %d", code)
		}
		code, _ = postJSON(t, server.URL+"/airdrop", AirdropRequest{Address: "not-base58!", Lamports: 100})
		if code != http.StatusBadRequest {
			t.Errorf("bad address airdrop returned %d", code)
		}

		airdrop(t, server.URL, k.Address(), 500)
		airdrop(t, server.URL, k.Address(), 700)
		var acct store.Account
		if code := getJSON(t, server.URL+"/account?address="+k.Address(), &acct); code != http.StatusOK {
			t.Fatalf("account endpoint returned %d", code)
		}
		if acct.Lamports != 1200 {
			t.Errorf("got %d lamports, want 1200", acct.Lamports)
		}
	})
}
