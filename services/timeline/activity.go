package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mavuno/core/events"
	"mavuno/crypto"
	"mavuno/observability"
)

// ActivityFor turns a committed ledger event into the timeline posts of the
// accounts it concerns. Events with no human-facing meaning yield nothing.
func ActivityFor(evt events.Event) []Post {
	switch e := evt.(type) {
	case events.LendingSupplied:
		account := e.OnBehalfOf
		if account.IsZero() {
			account = e.Supplier
		}
		return one(account, evt, e.Currency,
			fmt.Sprintf("You supplied %s to the %s pool", FormatFiat(e.Currency, e.Amount), e.Currency))
	case events.LendingWithdrawn:
		return one(e.Supplier, evt, e.Currency,
			fmt.Sprintf("You withdrew %s from the %s pool", FormatFiat(e.Currency, e.Amount), e.Currency))
	case events.LendingBorrowed:
		return one(e.Farmer, evt, e.Currency,
			fmt.Sprintf("You borrowed %s from the %s pool", FormatFiat(e.Currency, e.Amount), e.Currency))
	case events.LendingRepaid:
		posts := one(e.Farmer, evt, e.Currency,
			fmt.Sprintf("You repaid %s to the %s pool", FormatFiat(e.Currency, e.Amount), e.Currency))
		if e.Payer != e.Farmer && !e.Payer.IsZero() {
			posts = append(posts, one(e.Payer, evt, e.Currency,
				fmt.Sprintf("You repaid %s on behalf of a farmer in the %s pool", FormatFiat(e.Currency, e.Amount), e.Currency))...)
		}
		return posts
	case events.LendingPledgeActivated:
		return one(e.Farmer, evt, e.Currency,
			fmt.Sprintf("Your pledge is now active in the %s pool", e.Currency))
	case events.LendingPledgeDeactivated:
		return one(e.Farmer, evt, e.Currency,
			fmt.Sprintf("Your pledge was released from the %s pool", e.Currency))
	case events.PledgeDeposited:
		amount := FormatNative(e.Amount)
		return append(one(e.Pledger, evt, "", fmt.Sprintf("You pledged %s to a farmer", amount)),
			one(e.Farmer, evt, "", fmt.Sprintf("You received a pledge of %s", amount))...)
	case events.PledgeWithdrawn:
		amount := FormatNative(e.Amount)
		return append(one(e.Pledger, evt, "", fmt.Sprintf("You withdrew %s of pledged collateral", amount)),
			one(e.Farmer, evt, "", fmt.Sprintf("A pledger withdrew %s of your collateral", amount))...)
	case events.FarmerRegistered:
		return one(e.Farmer, evt, "", "You joined Mavuno as a farmer")
	case events.FarmerVerified:
		return one(e.Farmer, evt, "", "Your farmer profile was verified")
	default:
		return nil
	}
}

func one(account crypto.Address, evt events.Event, currency, content string) []Post {
	if account.IsZero() {
		return nil
	}
	return []Post{{
		Account:   account.String(),
		Type:      PostActivity,
		Content:   content,
		EventType: evt.EventType(),
		Currency:  currency,
	}}
}

// Recorder appends activity for committed events. Emit never blocks the
// ledger writer: events queue on a buffered channel drained by Run, and are
// dropped when the queue is full.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	queue  chan events.Event
}

func NewRecorder(store *Store, logger *slog.Logger, buffer int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{store: store, logger: logger, queue: make(chan events.Event, buffer)}
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	select {
	case r.queue <- evt:
	default:
		observability.Events().RecordDrop("timeline")
		r.logger.Warn("timeline: activity queue full, dropping event", "type", evt.EventType())
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case evt := <-r.queue:
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-r.queue:
			r.record(ctx, evt)
		default:
			return
		}
	}
}

// Record stores the activity for evt synchronously.
func (r *Recorder) Record(ctx context.Context, evt events.Event) error {
	return r.store.AppendActivity(ctx, ActivityFor(evt))
}

func (r *Recorder) record(ctx context.Context, evt events.Event) {
	if err := r.Record(ctx, evt); err != nil {
		observability.Events().RecordDrop("timeline")
		r.logger.Error("timeline: append activity failed", "type", evt.EventType(), "error", err)
	}
}
