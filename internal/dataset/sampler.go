package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
)

// Example is a decoded, normalised image ready for batching.
type Example struct {
	Key    string
	Pixels []float64
	Label  int
}

// SamplerOptions configures one pass (epoch) over a dataset.
type SamplerOptions struct {
	Entries    []Entry
	Shards     []string
	Decoder    Decoder
	Seed       int64
	Epoch      int
	Shuffle    bool
	NumWorkers int
	PendingCap int
}

// StartSampler decodes every entry and shard once with NumWorkers workers
// and streams the examples in job order. With Shuffle set, job order is a
// permutation derived from Seed and Epoch, so a pass is reproducible.
// Undecodable images are skipped.
func StartSampler(parent context.Context, opts SamplerOptions) (<-chan Example, <-chan error, error) {
	if len(opts.Entries) == 0 && len(opts.Shards) == 0 {
		return nil, nil, errors.New("sampler: no images or shards provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)

	order := buildOrder(opts)
	jobs := make(chan job, opts.NumWorkers)
	cursors := make(chan cursor, opts.NumWorkers)
	out := make(chan Example, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, order)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, opts)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, cursors, out, errCh)
	}()

	return out, errCh, nil
}

type job struct {
	id    int64
	entry *Entry
	shard string
}

type cursor struct {
	id       int64
	examples <-chan Example
	errCh    <-chan error
}

func buildOrder(opts SamplerOptions) []job {
	order := make([]job, 0, len(opts.Entries)+len(opts.Shards))
	for i := range opts.Entries {
		order = append(order, job{entry: &opts.Entries[i]})
	}
	for _, shard := range opts.Shards {
		order = append(order, job{shard: shard})
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed + int64(opts.Epoch)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	for i := range order {
		order[i].id = int64(i)
	}
	return order
}

func produceJobs(ctx context.Context, jobs chan<- job, order []job) {
	defer close(jobs)
	for _, j := range order {
		select {
		case <-ctx.Done():
			return
		case jobs <- j:
		}
	}
}

func worker(ctx context.Context, jobs <-chan job, cursors chan<- cursor, opts SamplerOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if j.entry != nil {
				if !sendCursor(ctx, cursors, decodeEntry(j, opts.Decoder)) {
					return
				}
				continue
			}
			// The cursor goes out before the shard is read so the
			// aggregator can drain it while this worker fills it.
			examples := make(chan Example, opts.PendingCap/16+1)
			errs := make(chan error, 1)
			if !sendCursor(ctx, cursors, cursor{id: j.id, examples: examples, errCh: errs}) {
				return
			}
			err := ReadShard(ctx, j.shard, opts.PendingCap, func(s Sample) error {
				pixels, err := opts.Decoder.Decode(s.Image)
				if err != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case examples <- Example{Key: s.Key, Pixels: pixels, Label: s.Label}:
					return nil
				}
			})
			close(examples)
			errs <- err
		}
	}
}

func decodeEntry(j job, dec Decoder) cursor {
	examples := make(chan Example, 1)
	errs := make(chan error, 1)
	raw, err := os.ReadFile(j.entry.Path)
	if err != nil {
		errs <- fmt.Errorf("read %s: %w", j.entry.Path, err)
	} else if pixels, err := dec.Decode(raw); err == nil {
		examples <- Example{Key: j.entry.Key, Pixels: pixels, Label: j.entry.Label}
		errs <- nil
	} else {
		errs <- nil
	}
	close(examples)
	return cursor{id: j.id, examples: examples, errCh: errs}
}

func sendCursor(ctx context.Context, cursors chan<- cursor, c cursor) bool {
	select {
	case <-ctx.Done():
		return false
	case cursors <- c:
		return true
	}
}

// runAggregator re-orders cursors by job id and forwards their examples.
func runAggregator(ctx context.Context, cursors <-chan cursor, out chan<- Example, errCh chan<- error) {
	pending := make(map[int64]cursor)
	var nextID int64
	open := true
	for {
		cur, ok := pending[nextID]
		if !ok {
			if !open {
				return
			}
			select {
			case <-ctx.Done():
				return
			case c, more := <-cursors:
				if !more {
					open = false
					continue
				}
				pending[c.id] = c
			}
			continue
		}

		for ex := range cur.examples {
			select {
			case <-ctx.Done():
				return
			case out <- ex:
			}
		}
		if err := <-cur.errCh; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		delete(pending, nextID)
		nextID++
	}
}
