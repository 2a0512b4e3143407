// internal/alerting/alerter.go
package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-gateway/internal/data"
)

// Broadcaster pushes alerts to connected dashboards.
type Broadcaster interface {
	BroadcastAlert(alert any)
}

// Publisher delivers alerts to an external channel.
type Publisher interface {
	Publish(ctx context.Context, alert data.Alert) error
}

type alertKey struct {
	assetID string
	kind    data.AlertKind
	metric  string
}

// Alerter fans alerts out to the dashboard hub and any publishers, dropping
// repeats of the same asset/kind/metric inside the dedupe window.
type Alerter struct {
	hub        Broadcaster
	publishers []Publisher
	window     time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	seen map[alertKey]time.Time
	now  func() time.Time
}

func NewAlerter(hub Broadcaster, window time.Duration, logger *zap.Logger, publishers ...Publisher) *Alerter {
	return &Alerter{
		hub:        hub,
		publishers: publishers,
		window:     window,
		logger:     logger,
		seen:       make(map[alertKey]time.Time),
		now:        time.Now,
	}
}

// ProcessAlerts delivers the alerts that are not duplicates and returns them.
func (a *Alerter) ProcessAlerts(ctx context.Context, alerts []data.Alert) []data.Alert {
	if len(alerts) == 0 {
		return nil
	}

	fresh := a.filter(alerts)
	if len(fresh) == 0 {
		return nil
	}

	a.logger.Info("processing alerts", zap.Int("count", len(fresh)), zap.Int("suppressed", len(alerts)-len(fresh)))
	for _, alert := range fresh {
		if a.hub != nil {
			a.hub.BroadcastAlert(alert)
		}
		for _, p := range a.publishers {
			if err := p.Publish(ctx, alert); err != nil {
				a.logger.Warn("alert publish failed",
					zap.String("asset_id", alert.AssetID),
					zap.String("kind", string(alert.Kind)),
					zap.Error(err),
				)
			}
		}
	}
	return fresh
}

func (a *Alerter) filter(alerts []data.Alert) []data.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for k, t := range a.seen {
		if now.Sub(t) >= a.window {
			delete(a.seen, k)
		}
	}

	var fresh []data.Alert
	for _, alert := range alerts {
		k := alertKey{assetID: alert.AssetID, kind: alert.Kind, metric: alert.Metric}
		if last, ok := a.seen[k]; ok && now.Sub(last) < a.window {
			continue
		}
		a.seen[k] = now
		fresh = append(fresh, alert)
	}
	return fresh
}
