// Package tracker keeps the live registry of transfers. Engines hold only a
// transfer id and mutate state through Tracker methods; every method is safe
// for concurrent use.
package tracker

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/gophstore/internal/logging"
	"github.com/dmitrijs2005/gophstore/internal/resumable"
)

const (
	// RateInterval is the minimum time between two rate recomputations.
	RateInterval = 500 * time.Millisecond

	// smoothing is the weight of the newest sample in the rate average.
	smoothing = 0.3
)

// PausedStore persists paused transfer snapshots. *resumable.Store
// satisfies it.
type PausedStore interface {
	SavePaused(ctx context.Context, p resumable.PausedTransfer) error
	Paused(ctx context.Context, id string) (*resumable.PausedTransfer, error)
	ClearPaused(ctx context.Context, id string) error
}

type entry struct {
	t      Transfer
	cancel context.CancelFunc
	active bool

	rateAt    time.Time
	rateBytes int64

	subs   map[chan Transfer]struct{}
	done   chan struct{}
	closed bool
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	paused  PausedStore
	log     logging.Logger
	now     func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func New(paused PausedStore, opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*entry),
		paused:  paused,
		log:     logging.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func clampLoaded(loaded, total int64) int64 {
	if loaded < 0 {
		return 0
	}
	if total > 0 && loaded > total {
		return total
	}
	return loaded
}

func percent(loaded, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(loaded) / float64(total)))
}

func (e *entry) snapshot() Transfer {
	s := e.t
	s.Keys = append([]string(nil), e.t.Keys...)
	return s
}

// publish pushes the current snapshot to subscribers, replacing any value
// they have not read yet. Callers hold the lock.
func (e *entry) publish() {
	snap := e.snapshot()
	for ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// finish closes done and every subscription. Callers hold the lock.
func (e *entry) finish() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.done)
	for ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

func (e *entry) deactivate() {
	if e.active {
		e.active = false
		transfersActive.WithLabelValues(string(e.t.Kind)).Dec()
	}
}

// Add registers a new in-progress transfer and returns its id.
func (t *Tracker) Add(d Descriptor) string {
	now := t.now()
	loaded := clampLoaded(d.Loaded, d.TotalSize)
	e := &entry{
		t: Transfer{
			ID:        uuid.NewString(),
			Name:      d.Name,
			Kind:      d.Kind,
			Keys:      append([]string(nil), d.Keys...),
			TotalSize: d.TotalSize,
			Loaded:    loaded,
			Progress:  percent(loaded, d.TotalSize),
			Status:    StatusInProgress,
			ResumeOf:  d.ResumeOf,
			CreatedAt: now,
		},
		cancel:    d.Cancel,
		active:    true,
		rateAt:    now,
		rateBytes: loaded,
		subs:      make(map[chan Transfer]struct{}),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	t.entries[e.t.ID] = e
	t.mu.Unlock()

	transfersActive.WithLabelValues(string(d.Kind)).Inc()
	return e.t.ID
}

// AttachCancel sets the signal fired by Pause and Cancel.
func (t *Tracker) AttachCancel(id string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		e.cancel = cancel
	}
}

// UpdateProgress records absolute progress. A total of zero keeps the
// previously known total. Unknown ids, paused and finished transfers are
// ignored.
func (t *Tracker) UpdateProgress(id string, loaded, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok || e.t.Status.Terminal() || e.t.Status == StatusPaused {
		return
	}
	if total > 0 {
		e.t.TotalSize = total
	}
	loaded = clampLoaded(loaded, e.t.TotalSize)
	if delta := loaded - e.t.Loaded; delta > 0 {
		transferBytes.WithLabelValues(string(e.t.Kind)).Add(float64(delta))
	}
	e.t.Loaded = loaded
	e.t.Progress = percent(loaded, e.t.TotalSize)

	now := t.now()
	if elapsed := now.Sub(e.rateAt); elapsed >= RateInterval {
		inst := float64(loaded-e.rateBytes) / elapsed.Seconds()
		if inst < 0 {
			inst = 0
		}
		if e.t.Rate == 0 {
			e.t.Rate = inst
		} else {
			e.t.Rate = e.t.Rate*(1-smoothing) + inst*smoothing
		}
		e.rateAt = now
		e.rateBytes = loaded

		if e.t.Rate > 0 && e.t.TotalSize > 0 {
			eta := time.Duration(float64(e.t.TotalSize-loaded) / e.t.Rate * float64(time.Second))
			e.t.ETA = &eta
		} else {
			e.t.ETA = nil
		}
	}
	e.publish()
}

// MarkCompressing switches an in-progress transfer to the archiving phase.
func (t *Tracker) MarkCompressing(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.t.Status != StatusInProgress {
		return
	}
	e.t.Status = StatusCompressing
	e.publish()
}

// Pause marks the transfer paused, persists its snapshot and fires its
// cancel signal. Pausing anything but a running transfer is a no-op.
func (t *Tracker) Pause(ctx context.Context, id string) error {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || (e.t.Status != StatusInProgress && e.t.Status != StatusCompressing) {
		t.mu.Unlock()
		return nil
	}
	e.t.Status = StatusPaused
	e.t.Rate = 0
	e.t.ETA = nil
	e.deactivate()
	e.publish()
	snap := resumable.PausedTransfer{
		ID:     id,
		Key:    e.t.Key(),
		Name:   e.t.Name,
		Kind:   string(e.t.Kind),
		Loaded: e.t.Loaded,
		Total:  e.t.TotalSize,
	}
	cancel := e.cancel
	t.mu.Unlock()

	transfersTotal.WithLabelValues(snap.Kind, string(StatusPaused)).Inc()
	if cancel != nil {
		cancel()
	}
	if err := t.paused.SavePaused(ctx, snap); err != nil {
		t.log.Error(ctx, "failed to save paused snapshot", "id", id, "error", err)
		return err
	}
	return nil
}

// Resume creates a new transfer seeded from the paused snapshot of id and
// drops the old one. It returns "" and false when no snapshot exists.
func (t *Tracker) Resume(ctx context.Context, id string) (string, bool) {
	snap, err := t.paused.Paused(ctx, id)
	if err != nil {
		t.log.Error(ctx, "failed to read paused snapshot", "id", id, "error", err)
		return "", false
	}
	if snap == nil {
		return "", false
	}

	var keys []string
	if snap.Key != "" {
		keys = []string{snap.Key}
	}
	newID := t.Add(Descriptor{
		Name:      snap.Name,
		Kind:      Kind(snap.Kind),
		Keys:      keys,
		TotalSize: snap.Total,
		Loaded:    snap.Loaded,
		ResumeOf:  id,
	})

	t.mu.Lock()
	if old, ok := t.entries[id]; ok {
		old.deactivate()
		old.finish()
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if err := t.paused.ClearPaused(ctx, id); err != nil {
		t.log.Warn(ctx, "failed to clear paused snapshot", "id", id, "error", err)
	}
	return newID, true
}

// terminate moves a live transfer into a terminal status. It returns the
// cancel signal and whether the transition happened.
func (t *Tracker) terminate(id string, status Status, apply func(e *entry, now time.Time)) (context.CancelFunc, Kind, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.t.Status.Terminal() {
		return nil, "", false
	}
	e.t.Status = status
	e.t.Rate = 0
	e.t.ETA = nil
	apply(e, t.now())
	e.deactivate()
	e.publish()
	e.finish()
	return e.cancel, e.t.Kind, true
}

func (t *Tracker) Complete(id string) {
	_, kind, ok := t.terminate(id, StatusCompleted, func(e *entry, now time.Time) {
		if e.t.TotalSize > 0 {
			e.t.Loaded = e.t.TotalSize
		}
		e.t.Progress = 100
		e.t.CompletedAt = &now
	})
	if ok {
		transfersTotal.WithLabelValues(string(kind), string(StatusCompleted)).Inc()
	}
}

// Fail marks the transfer as errored with a displayable message.
func (t *Tracker) Fail(id string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	_, kind, ok := t.terminate(id, StatusError, func(e *entry, now time.Time) {
		e.t.Error = msg
		e.t.ErroredAt = &now
	})
	if ok {
		transfersTotal.WithLabelValues(string(kind), string(StatusError)).Inc()
	}
}

// Cancel fires the cancel signal, marks the transfer cancelled and drops
// any paused snapshot.
func (t *Tracker) Cancel(ctx context.Context, id string) {
	cancel, kind, ok := t.terminate(id, StatusCancelled, func(*entry, time.Time) {})
	if !ok {
		return
	}
	transfersTotal.WithLabelValues(string(kind), string(StatusCancelled)).Inc()
	if cancel != nil {
		cancel()
	}
	if err := t.paused.ClearPaused(ctx, id); err != nil {
		t.log.Warn(ctx, "failed to clear paused snapshot", "id", id, "error", err)
	}
}

// Remove deletes the transfer and its paused snapshot. Unknown ids are
// ignored.
func (t *Tracker) Remove(ctx context.Context, id string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		e.deactivate()
		e.finish()
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if err := t.paused.ClearPaused(ctx, id); err != nil {
		t.log.Warn(ctx, "failed to clear paused snapshot", "id", id, "error", err)
	}
}

func (t *Tracker) Get(id string) (Transfer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Transfer{}, false
	}
	return e.snapshot(), true
}

// List returns every tracked transfer, oldest first.
func (t *Tracker) List() []Transfer {
	t.mu.Lock()
	out := make([]Transfer, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.snapshot())
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed once the transfer finishes or is removed. Unknown ids get
// an already closed channel.
func (t *Tracker) Done(id string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return closedDone
	}
	return e.done
}

// Subscribe returns a channel carrying the latest snapshot of id after each
// change. The channel is closed when the transfer finishes or is removed, or
// when the returned stop func is called.
func (t *Tracker) Subscribe(id string) (<-chan Transfer, func()) {
	ch := make(chan Transfer, 1)

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.closed {
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	ch <- e.snapshot()

	stop := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return ch, stop
}
