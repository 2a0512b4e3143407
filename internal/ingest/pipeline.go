// Package ingest runs every telemetry source through the same steps: parse,
// store, check, alert and broadcast.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fleet-gateway/internal/alerting"
	"fleet-gateway/internal/data"
	"fleet-gateway/internal/dispatch"
	"fleet-gateway/internal/gauge"
	"fleet-gateway/internal/scoring"
	"fleet-gateway/internal/storage"
)

// Broadcaster is the part of the websocket hub the pipeline needs.
type Broadcaster interface {
	BroadcastData(payload any)
	BroadcastFleet(summary any)
}

// Auditor records snapshot imports; *storage.RecordStore satisfies it.
type Auditor interface {
	Audit(ctx context.Context, actor, action, entityType, entityID, detail string) (storage.AuditEntry, error)
}

type Pipeline struct {
	store    *storage.FleetStore
	detector *dispatch.Detector
	planner  *dispatch.Planner
	scorer   *scoring.Scorer
	alerter  *alerting.Alerter
	hub      Broadcaster
	auditor  Auditor
	logger   *zap.Logger
}

type Deps struct {
	Store    *storage.FleetStore
	Detector *dispatch.Detector
	Planner  *dispatch.Planner
	Scorer   *scoring.Scorer
	Alerter  *alerting.Alerter
	Hub      Broadcaster
	Auditor  Auditor
	Logger   *zap.Logger
}

func NewPipeline(d Deps) *Pipeline {
	return &Pipeline{
		store:    d.Store,
		detector: d.Detector,
		planner:  d.Planner,
		scorer:   d.Scorer,
		alerter:  d.Alerter,
		hub:      d.Hub,
		auditor:  d.Auditor,
		logger:   d.Logger,
	}
}

// TelemetryResult is what one ingested reading produced.
type TelemetryResult struct {
	Point  *data.TelemetryPoint `json:"point"`
	Asset  data.Asset           `json:"asset"`
	Alerts []data.Alert         `json:"alerts"`
}

// IngestTelemetry parses and applies one telemetry payload. defaultID is used
// when the payload does not name its asset.
func (p *Pipeline) IngestTelemetry(ctx context.Context, raw []byte, source, defaultID string) (*TelemetryResult, error) {
	point, err := data.ParseFor(raw, source, defaultID)
	if err != nil {
		return nil, fmt.Errorf("parse telemetry: %w", err)
	}

	asset := p.store.Apply(point)

	alerts := p.detector.Check(point)
	alerts = append(alerts, p.planner.Alerts(asset)...)
	delivered := p.alerter.ProcessAlerts(ctx, alerts)

	if p.hub != nil {
		p.hub.BroadcastData(point)
	}

	p.logger.Debug("telemetry ingested",
		zap.String("asset_id", point.AssetID),
		zap.String("source", source),
		zap.Int("metrics", len(point.Metrics)),
		zap.Int("alerts", len(delivered)),
	)
	return &TelemetryResult{Point: point, Asset: asset, Alerts: alerts}, nil
}

// SnapshotResult summarises a snapshot merge.
type SnapshotResult struct {
	Created   int                  `json:"created"`
	Updated   int                  `json:"updated"`
	RowErrors []data.ParseError    `json:"row_errors,omitempty"`
	Alerts    int                  `json:"alerts"`
	Summary   scoring.FleetSummary `json:"summary"`
}

// ApplySnapshot merges a full fleet snapshot and raises alerts for every
// asset in it.
func (p *Pipeline) ApplySnapshot(ctx context.Context, snap *gauge.Snapshot, actor string) SnapshotResult {
	created, updated := p.store.Upsert(snap.Assets)

	var alerts []data.Alert
	for _, row := range snap.Assets {
		// alerts follow the merged state, not the raw row
		a, err := p.store.Get(row.ID)
		if err != nil {
			continue
		}
		alerts = append(alerts, p.planner.Alerts(a)...)
	}
	delivered := p.alerter.ProcessAlerts(ctx, alerts)

	res := SnapshotResult{
		Created:   created,
		Updated:   updated,
		RowErrors: snap.RowErrors,
		Alerts:    len(delivered),
		Summary:   p.scorer.Summarize(p.store.List()),
	}
	if p.hub != nil {
		p.hub.BroadcastFleet(res.Summary)
	}
	if p.auditor != nil {
		detail := fmt.Sprintf("created=%d updated=%d row_errors=%d", created, updated, len(snap.RowErrors))
		if _, err := p.auditor.Audit(ctx, actor, "import", "snapshot", "", detail); err != nil {
			p.logger.Warn("audit snapshot import failed", zap.Error(err))
		}
	}

	p.logger.Info("snapshot applied",
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Int("row_errors", len(snap.RowErrors)),
		zap.Int("alerts", len(delivered)),
	)
	return res
}

// GaugeSink adapts the pipeline for the GAUGE poller.
func (p *Pipeline) GaugeSink() gauge.Sink {
	return func(ctx context.Context, snap *gauge.Snapshot) {
		p.ApplySnapshot(ctx, snap, "gauge-poller")
	}
}

// MQTTHandler adapts the pipeline for the MQTT subscriber.
func (p *Pipeline) MQTTHandler() func(ctx context.Context, payload []byte, assetID string) error {
	return func(ctx context.Context, payload []byte, assetID string) error {
		_, err := p.IngestTelemetry(ctx, payload, "mqtt", assetID)
		return err
	}
}
