// Package tally reduces the final user states of a round into per-recipient
// results and commits to them.
package tally

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/vocdoni-qf/state"
)

// Tally is the reduction of every user vote of a round. The slices are
// indexed by recipient and have MaxRecipients+1 elements, the first one is
// the no-recipient slot and is always zero.
type Tally struct {
	// Results holds the sum of the weights assigned to every recipient.
	Results []*big.Int
	// PerRecipientSpent holds the voice credits spent on every recipient,
	// the sum of the squared weights.
	PerRecipientSpent []*big.Int
	// TotalSpent is the sum of PerRecipientSpent.
	TotalSpent *big.Int
}

// New returns an empty tally for the number of recipients provided.
func New(maxRecipients uint64) *Tally {
	t := &Tally{
		Results:           make([]*big.Int, maxRecipients+1),
		PerRecipientSpent: make([]*big.Int, maxRecipients+1),
		TotalSpent:        new(big.Int),
	}
	for i := range t.Results {
		t.Results[i] = new(big.Int)
		t.PerRecipientSpent[i] = new(big.Int)
	}
	return t
}

// MaxRecipients returns the highest recipient index of the tally.
func (t *Tally) MaxRecipients() uint64 {
	return uint64(len(t.Results) - 1)
}

// AddUser adds the votes of the user to the tally.
func (t *Tally) AddUser(u *state.UserState) error {
	for r, w := range u.Votes {
		if r == 0 || r >= uint64(len(t.Results)) {
			return fmt.Errorf("%w: %d", state.ErrInvalidRecipient, r)
		}
		spent := new(big.Int).Mul(w, w)
		t.Results[r].Add(t.Results[r], w)
		t.PerRecipientSpent[r].Add(t.PerRecipientSpent[r], spent)
		t.TotalSpent.Add(t.TotalSpent, spent)
	}
	return nil
}

// Merge adds the values of other to the tally. Both must have the same
// number of recipients.
func (t *Tally) Merge(other *Tally) error {
	if len(other.Results) != len(t.Results) {
		return fmt.Errorf("cannot merge tallies of %d and %d recipients",
			t.MaxRecipients(), other.MaxRecipients())
	}
	for r := range t.Results {
		t.Results[r].Add(t.Results[r], other.Results[r])
		t.PerRecipientSpent[r].Add(t.PerRecipientSpent[r], other.PerRecipientSpent[r])
	}
	t.TotalSpent.Add(t.TotalSpent, other.TotalSpent)
	return nil
}

// ResultsSum returns the sum of the results of every recipient.
func (t *Tally) ResultsSum() *big.Int {
	sum := new(big.Int)
	for _, v := range t.Results {
		sum.Add(sum, v)
	}
	return sum
}

// Equal returns true if both tallies hold the same values.
func (t *Tally) Equal(other *Tally) bool {
	if len(t.Results) != len(other.Results) || t.TotalSpent.Cmp(other.TotalSpent) != 0 {
		return false
	}
	for r := range t.Results {
		if t.Results[r].Cmp(other.Results[r]) != 0 ||
			t.PerRecipientSpent[r].Cmp(other.PerRecipientSpent[r]) != 0 {
			return false
		}
	}
	return true
}

// Reduce computes the tally of the users provided.
func Reduce(users []*state.UserState, maxRecipients uint64) (*Tally, error) {
	t := New(maxRecipients)
	for _, u := range users {
		if err := t.AddUser(u); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReduceParallel computes the same tally as Reduce splitting the users in
// chunks reduced concurrently by up to workers goroutines, then merging the
// partial tallies.
func ReduceParallel(ctx context.Context, users []*state.UserState, maxRecipients uint64, workers int) (*Tally, error) {
	if workers <= 1 || len(users) < 2*workers {
		return Reduce(users, maxRecipients)
	}
	chunkSize := (len(users) + workers - 1) / workers
	partials := make([]*Tally, 0, workers)
	for i := 0; i < len(users); i += chunkSize {
		partials = append(partials, nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range partials {
		start := i * chunkSize
		end := min(start+chunkSize, len(users))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partial, err := Reduce(users[start:end], maxRecipients)
			if err != nil {
				return err
			}
			partials[i] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := New(maxRecipients)
	for _, p := range partials {
		if err := t.Merge(p); err != nil {
			return nil, err
		}
	}
	return t, nil
}
