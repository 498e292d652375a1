package signature

import (
	"context"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"armrecover/internal/logging"
	"armrecover/internal/memory"
)

// DefaultWindow is the scan window size in bytes.
const DefaultWindow = 4096

// ScanOptions tunes ScanSource. Zero values select defaults.
type ScanOptions struct {
	Window  int
	Workers int
	// MaxMatches stops the scan once this many matches are collected.
	MaxMatches int
	Logger     *log.Logger
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

// ScanStats summarizes a ScanSource run.
type ScanStats struct {
	Windows int
	Skipped int
	Bytes   uint64
}

// ScanSource searches [start, end) of src for p. Each window is read with
// Len()-1 bytes of overlap so matches across window edges are found once.
// A window whose read fails is skipped and counted; only cancellation of
// ctx is returned as an error. Matches are returned in ascending order.
func ScanSource(ctx context.Context, src memory.Source, start, end memory.Address, p Pattern, opts ScanOptions) ([]memory.Address, ScanStats, error) {
	opts = opts.withDefaults()
	var stats ScanStats
	if p.Len() == 0 {
		return nil, stats, ErrEmpty
	}
	if end <= start {
		return nil, stats, nil
	}

	var (
		mu      sync.Mutex
		found   []memory.Address
		skipped atomic.Int64
		scanned atomic.Uint64
		total   atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for ws := start; ws < end; ws = ws.SaturatingAdd(uint64(opts.Window)) {
		if gctx.Err() != nil {
			break
		}
		if opts.MaxMatches > 0 && total.Load() >= int64(opts.MaxMatches) {
			break
		}
		stats.Windows++
		wstart := ws
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wend := min(wstart.SaturatingAdd(uint64(opts.Window)), end)
			readEnd := min(wend.SaturatingAdd(uint64(p.Len()-1)), end)
			if r, ok := memory.FindRegion(src, wstart); ok && readEnd > r.End {
				readEnd = r.End
			}
			data, err := src.ReadBytes(wstart, int(readEnd-wstart))
			if err != nil {
				skipped.Add(1)
				opts.Logger.Debug("window skipped", "start", wstart, "err", err)
				return nil
			}
			scanned.Add(uint64(wend - wstart))

			var local []memory.Address
			for _, off := range p.FindAllIn(data) {
				addr := wstart.Add(uint64(off))
				if addr >= wend {
					break
				}
				local = append(local, addr)
			}
			if len(local) == 0 {
				return nil
			}
			total.Add(int64(len(local)))
			mu.Lock()
			found = append(found, local...)
			mu.Unlock()
			return nil
		})
		if ws.SaturatingAdd(uint64(opts.Window)) == ws {
			break
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats.Skipped = int(skipped.Load())
	stats.Bytes = scanned.Load()
	slices.Sort(found)
	if opts.MaxMatches > 0 && len(found) > opts.MaxMatches {
		found = found[:opts.MaxMatches]
	}
	return found, stats, err
}
