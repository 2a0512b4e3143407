// internal/billing/consolidate.go
package billing

import "sort"

// Conflict records a rate that was replaced by a later import for the same
// asset and period.
type Conflict struct {
	AssetID  string `json:"asset_id"`
	Period   string `json:"period"`
	Previous Rate   `json:"previous"`
	Current  Rate   `json:"current"`
}

type rateKey struct {
	assetID string
	period  string
}

// Consolidator merges rates from several workbooks. For the same asset and
// period the last rate added wins. It is not safe for concurrent use.
type Consolidator struct {
	rates map[rateKey]Rate
}

func NewConsolidator() *Consolidator {
	return &Consolidator{rates: make(map[rateKey]Rate)}
}

func (c *Consolidator) Add(rates []Rate) []Conflict {
	var conflicts []Conflict
	for _, r := range rates {
		k := rateKey{assetID: r.AssetID, period: r.Period}
		if prev, ok := c.rates[k]; ok && prev.MonthlyRate != r.MonthlyRate {
			conflicts = append(conflicts, Conflict{AssetID: r.AssetID, Period: r.Period, Previous: prev, Current: r})
		}
		c.rates[k] = r
	}
	return conflicts
}

// Rates returns the consolidated rates ordered by asset then period.
func (c *Consolidator) Rates() []Rate {
	out := make([]Rate, 0, len(c.rates))
	for _, r := range c.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssetID != out[j].AssetID {
			return out[i].AssetID < out[j].AssetID
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// Current returns, per asset, the rate of its most recent period. Rates with
// no period only apply when the asset has no dated rate.
func (c *Consolidator) Current() map[string]float64 {
	best := make(map[string]Rate)
	for _, r := range c.rates {
		prev, ok := best[r.AssetID]
		if !ok || r.Period > prev.Period {
			best[r.AssetID] = r
		}
	}
	out := make(map[string]float64, len(best))
	for id, r := range best {
		out[id] = r.MonthlyRate
	}
	return out
}

// Totals sums monthly rates per source and period.
func (c *Consolidator) Totals() map[Source]map[string]float64 {
	out := make(map[Source]map[string]float64)
	for _, r := range c.rates {
		if out[r.Source] == nil {
			out[r.Source] = make(map[string]float64)
		}
		out[r.Source][r.Period] += r.MonthlyRate
	}
	return out
}
