package ledger

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PhoenixWild29/secureai-ledger/record"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

func TestRunFollower(t *testing.T) {
	ctx := context.Background()
	withTestServer(ctx, t, nil, func(ctx context.Context, v *Validator, server *httptest.Server) {
		programID := v.runtime.ProgramID()
		payer := testKeypair(t)
		airdrop(t, server.URL, payer.Address(), 6*RentExemptMinimum(record.EnvelopeLen))

		// Two slots' worth of work lands before the follower starts,
		// exercising the backlog replay.
		if r := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, "one", 1)); r.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", r.Status, r.Err)
		}
		if r := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, "two", 2)); r.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", r.Status, r.Err)
		}

		var (
			mu      sync.Mutex
			seen    []uint64
			txsSeen int
		)
		collect := func(_ context.Context, ev *SlotEvent) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Slot.Height)
			txsSeen += len(ev.Txs)
			return nil
		}
		lastSeen := func() uint64 {
			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 {
				return 0
			}
			return seen[len(seen)-1]
		}

		fctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			v.RunFollower(fctx, "test", collect)
			close(done)
		}()

		// A third transaction arrives while the follower is live.
		r3 := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, "three", 3))
		if r3.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", r3.Status, r3.Err)
		}

		deadline := time.Now().Add(10 * time.Second)
		for lastSeen() < r3.Slot {
			if time.Now().After(deadline) {
				t.Fatalf("follower stuck at slot %d, want %d", lastSeen(), r3.Slot)
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
		<-done

		mu.Lock()
		for i, h := range seen {
			if h != uint64(i+1) {
				t.Fatalf("follower saw slot %d at position %d", h, i)
			}
		}
		if txsSeen < 3 {
			t.Errorf("follower saw %d transactions, want at least 3", txsSeen)
		}
		mu.Unlock()

		pin, err := v.Store.Pin(ctx, "test")
		if err != nil {
			t.Fatal(err)
		}
		if pin < r3.Slot {
			t.Errorf("cursor is at %d, want at least %d", pin, r3.Slot)
		}

		// Restarting resumes from the cursor instead of replaying.
		r4 := submitWait(t, server.URL, createTx(t, programID, testKeypair(t), payer, "four", 4))
		if r4.Status != store.TxOK {
			t.Fatalf("create landed with status %s: %s", r4.Status, r4.Err)
		}

		mu.Lock()
		seen = nil
		mu.Unlock()

		fctx2, cancel2 := context.WithCancel(ctx)
		done2 := make(chan struct{})
		go func() {
			v.RunFollower(fctx2, "test", collect)
			close(done2)
		}()
		deadline = time.Now().Add(10 * time.Second)
		for lastSeen() < r4.Slot {
			if time.Now().After(deadline) {
				t.Fatalf("restarted follower stuck at slot %d, want %d", lastSeen(), r4.Slot)
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel2()
		<-done2

		mu.Lock()
		defer mu.Unlock()
		if seen[0] != pin+1 {
			t.Errorf("restarted follower began at slot %d, want %d", seen[0], pin+1)
		}
	})
}
