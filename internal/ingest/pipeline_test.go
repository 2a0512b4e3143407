package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-gateway/internal/alerting"
	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
	"fleet-gateway/internal/dispatch"
	"fleet-gateway/internal/gauge"
	"fleet-gateway/internal/maintenance"
	"fleet-gateway/internal/scoring"
	"fleet-gateway/internal/storage"
)

type recordingHub struct {
	mu     sync.Mutex
	data   []any
	fleet  []any
	alerts []any
}

func (h *recordingHub) BroadcastData(p any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, p)
}

func (h *recordingHub) BroadcastFleet(p any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fleet = append(h.fleet, p)
}

func (h *recordingHub) BroadcastAlert(p any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, p)
}

type fixture struct {
	pipeline *Pipeline
	store    *storage.FleetStore
	records  *storage.RecordStore
	hub      *recordingHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	logger := zap.NewNop()

	records, err := storage.OpenRecordStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	store := storage.NewFleetStore(10)
	hub := &recordingHub{}
	scorer := scoring.NewScorer(cfg.Scoring, time.Now)
	planner := dispatch.NewPlanner(scorer, maintenance.NewEngine(cfg.Maintenance), cfg.Scoring.FuelThreshold, cfg.Dispatch.IdleDays, time.Now)

	p := NewPipeline(Deps{
		Store:    store,
		Detector: dispatch.NewDetector(cfg.Dispatch.Rules, logger),
		Planner:  planner,
		Scorer:   scorer,
		Alerter:  alerting.NewAlerter(hub, cfg.Alerting.DedupeWindow, logger),
		Hub:      hub,
		Auditor:  records,
		Logger:   logger,
	})
	return &fixture{pipeline: p, store: store, records: records, hub: hub}
}

func TestIngestTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.pipeline.IngestTelemetry(ctx, []byte(`{"id":"EX-1","fuel_level":8,"engine_temp":140}`), "http", "")
	require.NoError(t, err)

	assert.Equal(t, "EX-1", res.Point.AssetID)
	assert.Equal(t, 8.0, res.Asset.FuelLevel)
	kinds := map[data.AlertKind]string{}
	for _, a := range res.Alerts {
		kinds[a.Kind] = a.Severity
	}
	assert.Equal(t, data.SeverityCritical, kinds[data.AlertThreshold])
	assert.Equal(t, data.SeverityCritical, kinds[data.AlertLowFuel])

	stored, err := f.store.Get("EX-1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, stored.FuelLevel)
	assert.Len(t, f.store.Recent("EX-1", 0), 1)

	assert.Len(t, f.hub.data, 1)
	assert.Len(t, f.hub.alerts, 2)

	// repeats inside the dedupe window still come back but are not re-broadcast
	res, err = f.pipeline.IngestTelemetry(ctx, []byte(`{"id":"EX-1","fuel_level":7}`), "http", "")
	require.NoError(t, err)
	assert.Len(t, res.Alerts, 1)
	assert.Len(t, f.hub.alerts, 2)
	assert.Len(t, f.hub.data, 2)
}

func TestIngestTelemetryRejectsBadPayload(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.IngestTelemetry(context.Background(), []byte(`{"fuel_level":10}`), "http", "")
	assert.ErrorIs(t, err, data.ErrNoAssetID)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.hub.data)
}

func TestMQTTHandlerUsesTopicID(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pipeline.MQTTHandler()(context.Background(), []byte(`{"fuel_level":60}`), "GN-2"))
	a, err := f.store.Get("GN-2")
	require.NoError(t, err)
	assert.Equal(t, 60.0, a.FuelLevel)
	assert.Equal(t, "mqtt", f.store.Recent("GN-2", 1)[0].Source)
}

func TestApplySnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap := &gauge.Snapshot{
		FetchedAt: time.Now(),
		Assets: []data.Asset{
			{ID: "EX-1", Category: data.CategoryExcavator, FuelLevel: 5, LastUpdate: time.Now()},
			{ID: "TR-1", Category: data.CategoryTruck, FuelLevel: 80, LastUpdate: time.Now()},
		},
		RowErrors: []data.ParseError{{Row: 3, Reason: "record has no asset identifier"}},
	}

	res := f.pipeline.ApplySnapshot(ctx, snap, "tester")
	assert.Equal(t, 2, res.Created)
	assert.Zero(t, res.Updated)
	assert.Equal(t, 1, res.Alerts)
	assert.Len(t, res.RowErrors, 1)
	assert.Equal(t, 2, res.Summary.TotalAssets)
	assert.Equal(t, 1, res.Summary.ByStatus[data.StatusNeedsFuel])
	assert.Len(t, f.hub.fleet, 1)

	res = f.pipeline.ApplySnapshot(ctx, snap, "tester")
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.Alerts)

	entries, err := f.records.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tester", entries[0].Actor)
	assert.Equal(t, "snapshot", entries[0].EntityType)
	assert.Equal(t, "created=0 updated=2 row_errors=1", entries[0].Detail)
}

func TestGaugeSinkAuditsAsPoller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pipeline.GaugeSink()(ctx, &gauge.Snapshot{Assets: []data.Asset{{ID: "A", FuelLevel: 50}}})

	entries, err := f.records.ListAudit(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gauge-poller", entries[0].Actor)
	assert.Equal(t, 1, f.store.Len())
}

func TestApplySnapshotAlertsOnMergedState(t *testing.T) {
	f := newFixture(t)
	lastSeen := time.Now().Add(-30 * 24 * time.Hour)
	f.store.Upsert([]data.Asset{{ID: "EX-9", Category: data.CategoryExcavator, FuelLevel: 80, LastUpdate: lastSeen}})

	// the row has no timestamp, so the stored one decides idleness
	res := f.pipeline.ApplySnapshot(context.Background(), &gauge.Snapshot{Assets: []data.Asset{{
		ID: "EX-9", Category: data.CategoryExcavator, FuelLevel: 80, Defaulted: []string{"last_update"},
	}}}, "tester")

	assert.Equal(t, 1, res.Alerts)
	require.Len(t, f.hub.alerts, 1)
	alert, ok := f.hub.alerts[0].(data.Alert)
	require.True(t, ok)
	assert.Equal(t, data.AlertIdleAsset, alert.Kind)
	assert.Equal(t, "EX-9", alert.AssetID)
}
