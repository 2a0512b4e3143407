package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestScorer() *Scorer {
	return NewScorer(config.Default().Scoring, func() time.Time { return testNow })
}

func TestStatusLadder(t *testing.T) {
	s := newTestScorer()
	recent := testNow.Add(-time.Hour)
	stale := testNow.Add(-72 * time.Hour)

	tests := []struct {
		name  string
		asset data.Asset
		want  data.AssetStatus
	}{
		{"low fuel wins", data.Asset{FuelLevel: 10, OperatingHours: 50, LastUpdate: recent}, data.StatusNeedsFuel},
		{"threshold is not low", data.Asset{FuelLevel: 20, OperatingHours: 50, LastUpdate: recent}, data.StatusActive},
		{"recent without hours", data.Asset{FuelLevel: 60, LastUpdate: recent}, data.StatusAvailable},
		{"stale", data.Asset{FuelLevel: 60, OperatingHours: 50, LastUpdate: stale}, data.StatusIdle},
		{"never reported", data.Asset{FuelLevel: 60, OperatingHours: 50}, data.StatusIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Status(tt.asset))
		})
	}
}

func TestDaysInactive(t *testing.T) {
	s := newTestScorer()
	assert.Equal(t, 0, s.DaysInactive(data.Asset{}))
	assert.Equal(t, 0, s.DaysInactive(data.Asset{LastUpdate: testNow.Add(time.Hour)}))
	assert.Equal(t, 0, s.DaysInactive(data.Asset{LastUpdate: testNow.Add(-23 * time.Hour)}))
	assert.Equal(t, 10, s.DaysInactive(data.Asset{LastUpdate: testNow.Add(-10*24*time.Hour - time.Hour)}))
}

func TestRevenueAndPriority(t *testing.T) {
	s := newTestScorer()

	ex := data.Asset{Category: data.CategoryExcavator, LastUpdate: testNow.Add(-14 * 24 * time.Hour)}
	assert.Equal(t, 8500.0, s.RevenuePotential(ex))
	// 8500 × 1.5 × 14/7
	assert.Equal(t, 25500.0, s.Priority(ex))

	ex.BillingRate = 10000
	assert.Equal(t, 10000.0, s.RevenuePotential(ex))

	// inactivity factor is capped at 3
	longIdle := data.Asset{Category: data.CategoryTrailer, LastUpdate: testNow.Add(-60 * 24 * time.Hour)}
	assert.Equal(t, 900*0.7*3, s.Priority(longIdle))

	unknown := data.Asset{Category: data.Category("crane")}
	assert.Equal(t, 2000.0, s.RevenuePotential(unknown))
	assert.Equal(t, 1.0, s.Multiplier(unknown.Category))
	assert.Zero(t, s.Priority(unknown))
}

func TestAvailability(t *testing.T) {
	s := newTestScorer()

	a := data.Asset{FuelLevel: 80, Utilization: 50, LastUpdate: testNow}
	// (80×0.3 + 50×0.4 + 100×0.3) / 1.0
	assert.Equal(t, 74.0, s.Availability(a))

	a.MaintenanceDue = true
	assert.Equal(t, 44.0, s.Availability(a))

	// needs_fuel caps the score at 50
	full := data.Asset{FuelLevel: 15, Utilization: 0, LastUpdate: testNow}
	assert.Equal(t, 50.0, s.Availability(full))

	noWeights := NewScorer(config.ScoringConfig{}, nil)
	assert.Zero(t, noWeights.Availability(a))
}

func TestEvaluateAllAndSummarize(t *testing.T) {
	s := newTestScorer()
	assets := []data.Asset{
		{ID: "TR-2", Category: data.CategoryTruck, FuelLevel: 90, LastUpdate: testNow.Add(-10 * 24 * time.Hour)},
		{ID: "EX-1", Category: data.CategoryExcavator, FuelLevel: 5, OperatingHours: 10, LastUpdate: testNow},
		{ID: "GN-3", Category: data.CategoryGenerator, FuelLevel: 70, OperatingHours: 10, LastUpdate: testNow},
	}

	evals := s.EvaluateAll(assets)
	require.Len(t, evals, 3)
	assert.Equal(t, []string{"EX-1", "GN-3", "TR-2"}, []string{evals[0].AssetID, evals[1].AssetID, evals[2].AssetID})
	assert.Equal(t, data.StatusNeedsFuel, evals[0].Status)
	assert.Equal(t, data.StatusActive, evals[1].Status)
	assert.Equal(t, data.StatusIdle, evals[2].Status)
	assert.Equal(t, 10, evals[2].DaysInactive)

	sum := s.Summarize(assets)
	assert.Equal(t, 3, sum.TotalAssets)
	assert.Equal(t, 1, sum.ByStatus[data.StatusIdle])
	assert.Equal(t, 1, sum.ByCategory[data.CategoryTruck])
	assert.Equal(t, 4800.0, sum.IdleRevenueAtRisk)

	empty := s.Summarize(nil)
	assert.Zero(t, empty.TotalAssets)
	assert.NotNil(t, empty.ByStatus)
}
