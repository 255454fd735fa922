// internal/tipfloor/source.go
package tipfloor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rovshanmuradov/leverage-sdk/internal/utils/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultFloorURL  = "https://bundles.jito.wtf/api/v1/bundles/tip_floor"
	DefaultStreamURL = "wss://bundles.jito.wtf/api/v1/bundles/tip_stream"

	defaultTimeout = 5 * time.Second
	maxBodySize    = 1 << 20
)

// MinTipSOL is the floor used at every percentile before the first observation.
var MinTipSOL = decimal.New(1, -5)

var (
	ErrEmptyResponse = errors.New("tip floor response is empty")
	ErrMissingField  = errors.New("tip floor response is missing a field")
	ErrBadStatus     = errors.New("unexpected tip floor status")
)

// Snapshot is one observation of landed tips, in SOL.
type Snapshot struct {
	Time  time.Time
	P25   decimal.Decimal
	P50   decimal.Decimal
	P75   decimal.Decimal
	P95   decimal.Decimal
	P99   decimal.Decimal
	EMA50 decimal.Decimal
}

// FloorSnapshot returns the snapshot served before any observation arrives.
func FloorSnapshot() Snapshot {
	return Snapshot{
		P25:   MinTipSOL,
		P50:   MinTipSOL,
		P75:   MinTipSOL,
		P95:   MinTipSOL,
		P99:   MinTipSOL,
		EMA50: MinTipSOL,
	}
}

// IsFloor reports whether s carries no observation yet.
func (s Snapshot) IsFloor() bool {
	return s.Time.IsZero()
}

func (s Snapshot) percentiles() map[string]float64 {
	return map[string]float64{
		"p25":   s.P25.InexactFloat64(),
		"p50":   s.P50.InexactFloat64(),
		"p75":   s.P75.InexactFloat64(),
		"p95":   s.P95.InexactFloat64(),
		"p99":   s.P99.InexactFloat64(),
		"ema50": s.EMA50.InexactFloat64(),
	}
}

// Options configure a Source. Zero values fall back to the public Jito endpoints.
type Options struct {
	URL        string
	StreamURL  string
	HTTPClient *http.Client
}

// Source holds the latest tip snapshot. Reads never block and never fail;
// refreshes replace the snapshot wholesale or leave it untouched.
type Source struct {
	url       string
	streamURL string
	client    *http.Client
	logger    *zap.Logger
	metrics   *metrics.Collector

	current atomic.Pointer[Snapshot]
}

// NewSource creates a source initialized to the floor snapshot. collector may be nil.
func NewSource(opts Options, logger *zap.Logger, collector *metrics.Collector) *Source {
	if opts.URL == "" {
		opts.URL = DefaultFloorURL
	}
	if opts.StreamURL == "" {
		opts.StreamURL = DefaultStreamURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}

	s := &Source{
		url:       opts.URL,
		streamURL: opts.StreamURL,
		client:    opts.HTTPClient,
		logger:    logger.Named("tipfloor"),
		metrics:   collector,
	}
	floor := FloorSnapshot()
	s.current.Store(&floor)
	return s
}

// Tips returns the latest snapshot.
func (s *Source) Tips() Snapshot {
	return *s.current.Load()
}

// Refresh fetches the oracle once. On success the new snapshot is stored and
// returned with true; on failure the previous snapshot is returned with false.
func (s *Source) Refresh(ctx context.Context) (Snapshot, bool) {
	snapshot, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("Tip floor refresh failed, keeping previous snapshot",
			zap.String("url", s.url),
			zap.Error(err))
		s.metrics.RecordTipRefresh("http", false)
		return s.Tips(), false
	}

	s.store(snapshot, "http")
	return snapshot, true
}

// Run refreshes every interval until ctx is done. The first refresh happens
// immediately unless a snapshot has already been observed.
func (s *Source) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if s.Tips().IsFloor() {
		s.Refresh(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Source) store(snapshot Snapshot, source string) {
	s.current.Store(&snapshot)
	s.metrics.RecordTipRefresh(source, true)
	s.metrics.UpdateTipFloor(snapshot.percentiles())
	s.logger.Debug("Tip floor updated",
		zap.String("source", source),
		zap.Time("time", snapshot.Time),
		zap.Stringer("p50", snapshot.P50),
		zap.Stringer("p75", snapshot.P75),
		zap.Stringer("p95", snapshot.P95),
		zap.Stringer("ema50", snapshot.EMA50))
}

func (s *Source) fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read body: %w", err)
	}
	return ParseSnapshot(body)
}

// tipFloorEntry mirrors one element of the oracle's JSON array.
type tipFloorEntry struct {
	Time  *time.Time       `json:"time"`
	P25   *decimal.Decimal `json:"landed_tips_25th_percentile"`
	P50   *decimal.Decimal `json:"landed_tips_50th_percentile"`
	P75   *decimal.Decimal `json:"landed_tips_75th_percentile"`
	P95   *decimal.Decimal `json:"landed_tips_95th_percentile"`
	P99   *decimal.Decimal `json:"landed_tips_99th_percentile"`
	EMA50 *decimal.Decimal `json:"ema_landed_tips_50th_percentile"`
}

// ParseSnapshot decodes an oracle payload. Only the first array element is
// used; a missing percentile fails the whole payload. A missing time is
// replaced with the time of receipt.
func ParseSnapshot(body []byte) (Snapshot, error) {
	var e tipFloorEntry
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		// The stream sometimes pushes a bare object instead of a one-element array.
		if err := sonic.Unmarshal(trimmed, &e); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode tip floor: %w", err)
		}
	} else {
		// Trailing elements are kept raw and never decoded.
		var entries []sonic.NoCopyRawMessage
		if err := sonic.Unmarshal(trimmed, &entries); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode tip floor: %w", err)
		}
		if len(entries) == 0 {
			return Snapshot{}, ErrEmptyResponse
		}
		if err := sonic.Unmarshal(entries[0], &e); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode tip floor: %w", err)
		}
	}

	fields := []struct {
		name  string
		value *decimal.Decimal
	}{
		{"landed_tips_25th_percentile", e.P25},
		{"landed_tips_50th_percentile", e.P50},
		{"landed_tips_75th_percentile", e.P75},
		{"landed_tips_95th_percentile", e.P95},
		{"landed_tips_99th_percentile", e.P99},
		{"ema_landed_tips_50th_percentile", e.EMA50},
	}
	for _, f := range fields {
		if f.value == nil {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
		if f.value.IsNegative() {
			return Snapshot{}, fmt.Errorf("negative value for %s: %s", f.name, f.value)
		}
	}

	ts := time.Now().UTC()
	if e.Time != nil && !e.Time.IsZero() {
		ts = *e.Time
	}

	return Snapshot{
		Time:  ts,
		P25:   *e.P25,
		P50:   *e.P50,
		P75:   *e.P75,
		P95:   *e.P95,
		P99:   *e.P99,
		EMA50: *e.EMA50,
	}, nil
}
