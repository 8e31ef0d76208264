package resilience

import (
	"context"
	"sync"
	"time"
)

// BulkheadConfig configures the concurrency limit.
type BulkheadConfig struct {
	// MaxConcurrent is the number of provider calls allowed in flight.
	// Default: 10
	MaxConcurrent int

	// MaxWait is how long to wait for a free slot before rejecting.
	// Default: 0 (reject immediately)
	MaxWait time.Duration
}

// Bulkhead caps in-flight provider calls so a slow provider cannot pin
// every worker in a batch.
type Bulkhead struct {
	cfg BulkheadConfig
	sem chan struct{}

	mu        sync.Mutex
	active    int
	maxActive int
	rejected  int64
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Acquire claims a slot, waiting up to MaxWait when the bulkhead is
// full. Returns ErrBulkheadFull when no slot frees up in time, or
// ctx.Err() if the context ends first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		b.claimed()
		return nil
	default:
	}

	if b.cfg.MaxWait <= 0 {
		b.refused()
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		b.claimed()
		return nil
	case <-timer.C:
		b.refused()
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot claimed by Acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	default:
		// Release without a matching Acquire. Nothing to free.
	}
}

// Execute runs op inside a bulkhead slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// Stats returns current bulkhead counters.
func (b *Bulkhead) Stats() BulkheadStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BulkheadStats{
		Active:        b.active,
		MaxActive:     b.maxActive,
		Available:     b.cfg.MaxConcurrent - b.active,
		MaxConcurrent: b.cfg.MaxConcurrent,
		Rejected:      b.rejected,
	}
}

func (b *Bulkhead) claimed() {
	b.mu.Lock()
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()
}

func (b *Bulkhead) refused() {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

// BulkheadStats contains bulkhead counters.
type BulkheadStats struct {
	Active        int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
