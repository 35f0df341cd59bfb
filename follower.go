package ledger

import (
	"context"
	"fmt"

	"github.com/bitmark-inc/logger"
	"github.com/chain/txvm/errors"

	"github.com/PhoenixWild29/secureai-ledger/store"
)

// RunFollower runs as a goroutine. It invokes f once per slot, in
// order, resuming from the durable cursor stored under name. Slots
// already produced are replayed from the store before live slots are
// consumed.
func (v *Validator) RunFollower(ctx context.Context, name string, f func(context.Context, *SlotEvent) error) {
	defer v.log.Infof("follower %s exiting", name)

	r := v.S.Reader()
	defer r.Dispose()

	last, err := v.Store.Pin(ctx, name)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Panicf("creating follower cursor %s: %s", name, err)
	}

	process := func(ev *SlotEvent) error {
		if ev.Slot.Height != last+1 {
			return fmt.Errorf("missing slot %d", last+1)
		}
		err := f(ctx, ev)
		if err != nil {
			return errors.Wrapf(err, "running follower %s on slot %d", name, ev.Slot.Height)
		}
		err = v.Store.SetPin(ctx, name, ev.Slot.Height)
		if err != nil {
			return errors.Wrapf(err, "updating cursor %s after slot %d", name, ev.Slot.Height)
		}
		last = ev.Slot.Height
		return nil
	}

	height, err := v.Store.Height(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Panicf("getting height for follower %s: %s", name, err)
	}
	for h := last + 1; h <= height; h++ {
		sl, err := v.Store.Slot(ctx, h)
		if err == nil {
			var txs []*store.Tx
			txs, err = v.Store.SlotTxs(ctx, h)
			if err == nil {
				err = process(&SlotEvent{Slot: sl, Txs: txs})
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Panicf("replaying slot %d in follower %s: %s", h, name, err)
		}
	}

	for {
		x, ok := r.Read(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			logger.Panicf("error waiting for slot %d in follower %s", last+1, name)
		}
		ev := x.(*SlotEvent)
		if ev.Slot.Height <= last {
			// Already replayed from the store.
			continue
		}
		err = process(ev)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Panicf("processing slot %d in follower %s: %s", ev.Slot.Height, name, err)
		}
	}
}

// RunFinality runs as a goroutine, marking transactions finalized once
// the configured number of slots has built on top of theirs.
func (v *Validator) RunFinality(ctx context.Context) {
	v.RunFollower(ctx, "finality", func(ctx context.Context, ev *SlotEvent) error {
		if ev.Slot.Height <= v.depth {
			return nil
		}
		return v.Store.MarkFinalized(ctx, ev.Slot.Height-v.depth)
	})
}
