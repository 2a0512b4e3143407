// Package gauge pulls fleet snapshots from the GAUGE telemetry API.
package gauge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"fleet-gateway/internal/config"
	"fleet-gateway/internal/data"
)

var ErrUnexpectedStatus = errors.New("gauge: unexpected response status")

// Snapshot is one decoded fetch.
type Snapshot struct {
	FetchedAt time.Time
	Assets    []data.Asset
	RowErrors []data.ParseError
}

type Client struct {
	httpClient   *resty.Client
	snapshotPath string
	logger       *zap.Logger
}

func NewClient(cfg config.GaugeConfig, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/json, text/csv")
	if cfg.Username != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &Client{
		httpClient:   client,
		snapshotPath: cfg.SnapshotPath,
		logger:       logger,
	}
}

// FetchSnapshot downloads and decodes the current asset list. CSV bodies are
// recognised by content type.
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(c.snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("gauge: fetch snapshot: %w", err)
	}
	if resp.IsError() {
		c.logger.Error("GAUGE API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("path", c.snapshotPath),
		)
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode())
	}

	var (
		assets  []data.Asset
		rowErrs []data.ParseError
	)
	if strings.Contains(resp.Header().Get("Content-Type"), "csv") {
		assets, rowErrs, err = data.ParseSnapshotCSV(strings.NewReader(string(resp.Body())))
	} else {
		assets, rowErrs, err = data.ParseSnapshot(resp.Body())
	}
	if err != nil {
		return nil, fmt.Errorf("gauge: %w", err)
	}

	c.logger.Info("fetched GAUGE snapshot",
		zap.Int("asset_count", len(assets)),
		zap.Int("row_errors", len(rowErrs)),
	)
	return &Snapshot{FetchedAt: time.Now().UTC(), Assets: assets, RowErrors: rowErrs}, nil
}
