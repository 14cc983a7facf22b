// Package processor applies ordered batches of encrypted messages to the
// state of a round. Messages are decrypted in parallel, then the commands of
// every user are applied in submission order by a single goroutine per user.
// Invalid messages are discarded, counted and logged, and never abort the
// batch.
package processor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/vocdoni-qf/crypto/keys"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/message"
	"github.com/vocdoni/vocdoni-qf/state"
)

// DefaultWorkers is the number of goroutines used to decrypt messages when
// no positive value is provided.
var DefaultWorkers = runtime.NumCPU()

// Discarded identifies a message of a batch that was not applied.
type Discarded struct {
	// Index is the position of the message in the batch.
	Index int
	Err   error
}

// Result is the outcome of processing a batch.
type Result struct {
	// Table is the state after applying the batch. The input table is never
	// modified.
	Table     *state.Table
	Applied   int
	Discarded []Discarded
}

// openedMessage is a decrypted message, or the reason it could not be
// decrypted.
type openedMessage struct {
	cmd *message.Command
	sig *babyjub.Signature
	err error
}

// ProcessBatch applies the ordered batch of messages to a copy of the table
// and returns it. Messages that cannot be decrypted or whose command is
// rejected by the state machine are discarded. The commands of different
// users are independent, so they are applied concurrently, while the commands
// of the same user are applied in batch order.
//
// If the context is cancelled the batch is abandoned and an error returned.
func ProcessBatch(
	ctx context.Context,
	coordinator *keys.Keypair,
	table *state.Table,
	batch []*message.Message,
	workers int,
) (*Result, error) {
	if coordinator == nil || table == nil {
		return nil, fmt.Errorf("nil coordinator or state table")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	startTime := time.Now()

	opened, err := openAll(ctx, coordinator, batch, workers)
	if err != nil {
		return nil, err
	}

	// group the opened commands by state index keeping the batch order
	next := table.Clone()
	errs := make([]error, len(batch))
	groups := make(map[uint64][]int)
	var order []uint64
	for i, o := range opened {
		if o.err != nil {
			errs[i] = o.err
			continue
		}
		idx := o.cmd.StateIndex
		if _, ok := groups[idx]; !ok {
			order = append(order, idx)
		}
		groups[idx] = append(groups[idx], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, idx := range order {
		positions := groups[idx]
		g.Go(func() error {
			for _, i := range positions {
				if err := gctx.Err(); err != nil {
					return err
				}
				errs[i] = next.Apply(opened[i].cmd, opened[i].sig)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch processing aborted: %w", err)
	}

	res := &Result{Table: next}
	for i, err := range errs {
		if err == nil {
			res.Applied++
			continue
		}
		res.Discarded = append(res.Discarded, Discarded{Index: i, Err: err})
		reason := discardReason(err)
		messagesDiscarded.WithLabelValues(reason).Inc()
		log.Debugw("message discarded", "index", i, "reason", reason, "error", err.Error())
	}
	messagesApplied.Add(float64(res.Applied))
	batchDuration.Observe(time.Since(startTime).Seconds())
	log.Debugw("batch processed",
		"messages", len(batch),
		"applied", res.Applied,
		"discarded", len(res.Discarded),
		"duration", time.Since(startTime).String(),
	)
	return res, nil
}

// openAll decrypts every message of the batch with up to workers
// goroutines. Decryption errors are kept per message.
func openAll(ctx context.Context, coordinator *keys.Keypair, batch []*message.Message, workers int) ([]openedMessage, error) {
	opened := make([]openedMessage, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, msg := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			opened[i].cmd, opened[i].sig, opened[i].err = message.Open(coordinator, msg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch decryption aborted: %w", err)
	}
	return opened, nil
}
