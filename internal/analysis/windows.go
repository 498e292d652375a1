package analysis

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"armrecover/internal/logging"
	"armrecover/internal/memory"
	"armrecover/internal/signature"
)

// ScanOptions tunes the windowed scanners. Zero values select defaults.
type ScanOptions struct {
	Window  int
	Workers int
	// MaxCandidates bounds the findings a scan collects; 0 is unbounded.
	MaxCandidates int
	Logger        *log.Logger
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.Window <= 0 {
		o.Window = signature.DefaultWindow
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// windowFunc evaluates [start, end). A returned error aborts only that
// window; it is logged at debug level.
type windowFunc func(ctx context.Context, start, end memory.Address) ([]Finding, error)

// scanWindows maps fn over fixed windows of [start, end) on a bounded
// worker pool. Results are sorted; only ctx cancellation is an error.
func scanWindows(ctx context.Context, start, end memory.Address, opts ScanOptions, fn windowFunc) ([]Finding, error) {
	opts = opts.withDefaults()
	if end <= start {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		out   []Finding
		count atomic.Int64
	)
	full := func() bool {
		return opts.MaxCandidates > 0 && count.Load() >= int64(opts.MaxCandidates)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for ws := start; ws < end && gctx.Err() == nil && !full(); {
		next := ws.SaturatingAdd(uint64(opts.Window))
		wstart, wend := ws, min(next, end)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := fn(gctx, wstart, wend)
			if err != nil {
				opts.Logger.Debug("window aborted", "start", wstart, "end", wend, "err", err)
				return nil
			}
			if len(found) == 0 {
				return nil
			}
			count.Add(int64(len(found)))
			mu.Lock()
			out = append(out, found...)
			mu.Unlock()
			return nil
		})
		if next == ws {
			break
		}
		ws = next
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	Sort(out)
	if opts.MaxCandidates > 0 && len(out) > opts.MaxCandidates {
		out = out[:opts.MaxCandidates]
	}
	return out, err
}
