// internal/gauge/poller.go
package gauge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Fetcher is satisfied by *Client.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

// Sink receives each successfully fetched snapshot.
type Sink func(ctx context.Context, snap *Snapshot)

// Poller fetches on a fixed interval. A failed fetch leaves the previous
// fleet state in place and is retried on the next tick.
type Poller struct {
	fetcher  Fetcher
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(f Fetcher, sink Sink, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{fetcher: f, sink: sink, interval: interval, logger: logger}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("GAUGE poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	snap, err := p.fetcher.FetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("GAUGE poll failed, keeping previous fleet state", zap.Error(err))
		}
		return
	}
	p.sink(ctx, snap)
}
