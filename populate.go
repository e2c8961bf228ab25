package trajclust

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RowRange is a half-open range [Start, End) of matrix rows. A worker owning
// a range computes every pair (i, j) with Start <= i < End and j > i.
type RowRange struct {
	Start, End int
}

// Pairs returns the number of (i, j), j > i, pairs in r for n members.
func (r RowRange) Pairs(n int) int {
	var total int
	for i := r.Start; i < r.End; i++ {
		total += n - 1 - i
	}
	return total
}

// PartitionRows splits rows 0..n-1 into at most parts contiguous, disjoint
// ranges covering every row, balanced by pair count rather than row count
// since early rows of the triangle hold more pairs.
func PartitionRows(n, parts int) []RowRange {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	total := n * (n - 1) / 2
	target := (total + parts - 1) / parts

	ranges := make([]RowRange, 0, parts)
	start, acc := 0, 0
	for i := 0; i < n; i++ {
		acc += n - 1 - i
		if acc >= target && len(ranges) < parts-1 && i+1 < n {
			ranges = append(ranges, RowRange{Start: start, End: i + 1})
			start, acc = i+1, 0
		}
	}
	return append(ranges, RowRange{Start: start, End: n})
}

// PopulateMatrix fills an allocated matrix with the RMSD between every pair
// of sieved members (matrix index i is provider member i*cfg.Sieve). Rows
// are split across cfg.Workers goroutines; the first error cancels the
// rest. On success the matrix has been synced and is ready for clustering.
func PopulateMatrix(ctx context.Context, m DistanceMatrix, p CoordinateProvider, mask Mask, cfg Config) error {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	if m.NeedsSetup() {
		return ErrNotAllocated
	}
	n := m.Members()
	log := cfg.Logger
	start := time.Now()
	log.Info("populating distance matrix",
		zap.Int("members", n),
		zap.Int("elements", m.Size()),
		zap.Int("sieve", cfg.Sieve),
		zap.Bool("fit", cfg.Fit),
		zap.Int("workers", cfg.Workers),
	)

	frames, err := loadFrames(p, mask, n, cfg.Sieve, 0)
	if err != nil {
		return err
	}
	metric := RMSDMetric{Fit: cfg.Fit}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range PartitionRows(n, cfg.Workers) {
		r := r
		g.Go(func() error {
			return populateRows(gctx, m, frames, 0, r, metric)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Barrier: nothing may be read until every write is durable.
	if err := m.Sync(); err != nil {
		return err
	}
	log.Info("populated distance matrix",
		zap.Int("members", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// PopulateShard computes only the rows in r, sequentially, and does not
// sync. It lets an external transport give each process one range from
// PartitionRows; the caller must sync the matrix once every shard is done.
func PopulateShard(ctx context.Context, m DistanceMatrix, p CoordinateProvider, mask Mask, r RowRange, cfg Config) error {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	if m.NeedsSetup() {
		return ErrNotAllocated
	}
	n := m.Members()
	if r.Start < 0 || r.End > n || r.Start > r.End {
		return fmt.Errorf("%w: row range [%d,%d) with %d members", ErrIndexOutOfRange, r.Start, r.End, n)
	}
	frames, err := loadFrames(p, mask, n, cfg.Sieve, r.Start)
	if err != nil {
		return err
	}
	cfg.Logger.Debug("populating shard",
		zap.Int("start", r.Start), zap.Int("end", r.End), zap.Int("pairs", r.Pairs(n)))
	return populateRows(ctx, m, frames, r.Start, r, RMSDMetric{Fit: cfg.Fit})
}

// loadFrames fetches matrix members from..n-1; frames[k] is matrix index
// from+k, i.e. provider member (from+k)*sieve.
func loadFrames(p CoordinateProvider, mask Mask, n, sieve, from int) ([]Frame, error) {
	if n > 0 && (n-1)*sieve >= p.NumMembers() {
		return nil, fmt.Errorf("%w: %d members with sieve %d need %d frames, provider has %d",
			ErrIndexOutOfRange, n, sieve, (n-1)*sieve+1, p.NumMembers())
	}
	frames := make([]Frame, n-from)
	for i := from; i < n; i++ {
		f, err := maskedFrame(p, i*sieve, mask)
		if err != nil {
			return nil, err
		}
		frames[i-from] = f
	}
	return frames, nil
}

// populateRows writes every pair in r. frames[k] holds matrix index offset+k.
func populateRows(ctx context.Context, m DistanceMatrix, frames []Frame, offset int, r RowRange, metric FrameMetric) error {
	n := offset + len(frames)
	for i := r.Start; i < r.End; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fi := frames[i-offset]
		for j := i + 1; j < n; j++ {
			d, err := metric.Distance(fi, frames[j-offset])
			if err != nil {
				return fmt.Errorf("pair (%d,%d): %w", i, j, err)
			}
			if err := m.SetElement(i, j, d); err != nil {
				return err
			}
		}
	}
	return nil
}
