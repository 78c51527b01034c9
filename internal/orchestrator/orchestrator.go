// Package orchestrator fans work items out over a bounded worker pool and
// accumulates their statuses into a run tally. Workers are isolated: an
// error or panic in one item is recorded and never aborts the rest of the
// run. Cancellation stops admission of new items; in-flight items finish.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/marketsync/internal/domain"
)

// progressEvery controls how often a progress line is logged.
const progressEvery = 25

// WorkItem is one unit of work: a single task on a single security or date.
type WorkItem struct {
	Name string
	Fn   func(ctx context.Context) (domain.Status, error)
}

// Tally counts completed items by status.
type Tally struct {
	mu     sync.Mutex
	counts map[domain.Status]int
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{counts: make(map[domain.Status]int)}
}

func (t *Tally) add(status domain.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[status]++
}

// Count returns the number of items that finished with status.
func (t *Tally) Count(status domain.Status) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[status]
}

// Total returns the number of completed items.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// Errors returns the count of items that failed (ERROR plus FATAL_ERROR).
func (t *Tally) Errors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[domain.StatusError] + t.counts[domain.StatusFatalError]
}

// MarshalZerologObject renders the tally on a log event.
func (t *Tally) MarshalZerologObject(e *zerolog.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for status, n := range t.counts {
		e.Int(string(status), n)
	}
}

// Orchestrator executes work items on a pool of at most Workers goroutines.
type Orchestrator struct {
	workers int
	log     zerolog.Logger
}

// New creates an Orchestrator with the given pool size.
func New(workers int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		workers: workers,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes items and returns the tally. The only returned error is the
// context's, when the run was cancelled before all items were admitted;
// per-item failures are tallied, logged and swallowed.
func (o *Orchestrator) Run(ctx context.Context, label string, items []WorkItem) (*Tally, error) {
	runID := uuid.New().String()[:8]
	log := o.log.With().Str("run_id", runID).Str("phase", label).Logger()
	log.Info().Int("items", len(items)).Int("workers", o.workers).Msg("run started")

	tally := NewTally()
	var done int
	var doneMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.workers)

	var admitted int
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		admitted++
		item := item

		g.Go(func() error {
			status := o.execute(ctx, log, item)
			tally.add(status)

			doneMu.Lock()
			done++
			n := done
			doneMu.Unlock()
			if n%progressEvery == 0 || n == len(items) {
				log.Info().
					Int("done", n).
					Int("total", len(items)).
					Int("percent", n*100/len(items)).
					Msg("progress")
			}
			return nil
		})
	}

	_ = g.Wait()

	// Items never admitted because of cancellation count as skipped.
	for i := admitted; i < len(items); i++ {
		tally.add(domain.StatusSkipped)
	}

	log.Info().Object("tally", tally).Msg("run finished")

	if ctx.Err() != nil && admitted < len(items) {
		return tally, ctx.Err()
	}
	return tally, nil
}

// execute runs one item, converting a panic into FATAL_ERROR so a bug in
// one security's handling cannot take down the whole run.
func (o *Orchestrator) execute(ctx context.Context, log zerolog.Logger, item WorkItem) (status domain.Status) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("item", item.Name).Msg("work item panicked")
			status = domain.StatusFatalError
		}
	}()

	status, err := item.Fn(ctx)
	if err != nil {
		log.Error().Err(err).Str("item", item.Name).Str("status", string(status)).Msg("work item failed")
	} else {
		log.Debug().Str("item", item.Name).Str("status", string(status)).Msg("work item finished")
	}
	return status
}
