package knnemd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// parallelChunks splits [0, n) into contiguous ranges of at most chunk items
// and runs fn on each range with at most workers ranges in flight. Each call
// must write only to outputs owned by its range, so the combined result does
// not depend on scheduling order and is bitwise identical to the serial path.
//
// A chunk of 0 divides the work evenly across workers. With workers <= 1 the
// ranges run serially on the calling goroutine. A panic inside fn is
// recovered and returned as an error; the first error wins.
func parallelChunks(n, workers, chunk int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if chunk <= 0 {
		chunk = (n + workers - 1) / workers
	}

	if workers == 1 {
		for start := 0; start < n; start += chunk {
			if err := safeRange(fn, start, min(start+chunk, n)); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			return safeRange(fn, start, end)
		})
	}
	return g.Wait()
}

func safeRange(fn func(start, end int) error, start, end int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("knnemd: worker panic on range [%d, %d): %v\n%s", start, end, r, debug.Stack())
		}
	}()
	return fn(start, end)
}

// taskChunk picks a chunk size giving each worker several tasks, so uneven
// per-item cost (features with long count tails) balances out.
func taskChunk(n, workers int) int {
	if workers <= 1 {
		return n
	}
	return max(1, (n+4*workers-1)/(4*workers))
}

// resolveWorkers returns the worker count for nProcs: 0 means one less than
// the available CPUs, values above the available CPUs fall back to that
// default with a warning, and the result is never below 1.
func resolveWorkers(nProcs int, log zerolog.Logger) int {
	avail := runtime.GOMAXPROCS(0)
	def := max(1, avail-1)
	switch {
	case nProcs <= 0:
		return def
	case nProcs > avail:
		log.Warn().Int("requested", nProcs).Int("available", avail).Int("using", def).
			Msg("requested more workers than available CPUs")
		return def
	default:
		return nProcs
	}
}
