// Package usage records one ledger entry per outbound provider call
// and aggregates the entries into per-user cost summaries.
package usage

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/metrics"
)

// Endpoint labels used for usage records and metrics.
const (
	EndpointVideoGenerate     = "video.generate"
	EndpointVideoStatus       = "video.status"
	EndpointFaceExtract       = "face.extract"
	EndpointFaceExtractStatus = "face.extract.status"
	EndpointFaceSwap          = "face.swap"
	EndpointFaceSwapStatus    = "face.swap.status"
)

// DefaultCost applies to endpoint labels missing from the cost table.
const DefaultCost = 0.01

// costs is the flat per-call cost estimate in USD, keyed by endpoint label.
var costs = map[string]float64{
	EndpointVideoGenerate:     0.25,
	EndpointVideoStatus:       0,
	EndpointFaceExtract:       0.01,
	EndpointFaceExtractStatus: 0,
	EndpointFaceSwap:          0.10,
	EndpointFaceSwapStatus:    0,
}

// EstimateCost returns the flat cost of one call to the endpoint.
func EstimateCost(endpoint string) float64 {
	if c, ok := costs[endpoint]; ok {
		return c
	}
	return DefaultCost
}

// Call describes one outbound call as seen by the provider client.
type Call struct {
	UserID        int64
	Endpoint      string
	RequestID     string
	RequestBytes  int
	ResponseBytes int
	Duration      time.Duration
	Err           error
}

// Tracker receives exactly one Call per outbound request.
type Tracker interface {
	Track(ctx context.Context, c Call)
}

// Discard is a Tracker that records nothing.
type Discard struct{}

// Track implements Tracker.
func (Discard) Track(context.Context, Call) {}

// Compile-time check that Ledger implements Tracker.
var _ Tracker = (*Ledger)(nil)

// Ledger appends usage records to a repository and mirrors them into metrics.
// Repository failures are logged and never returned to the caller.
type Ledger struct {
	repo         job.UsageRepository
	metrics      *metrics.Metrics
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewLedger creates a usage ledger. m may be nil.
func NewLedger(repo job.UsageRepository, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:         repo,
		metrics:      m,
		logger:       logger,
		writeTimeout: 5 * time.Second,
	}
}

// Track appends one usage record for the call.
// The write outlives a cancelled request context but is bounded by a short timeout.
func (l *Ledger) Track(ctx context.Context, c Call) {
	rec := &job.UsageRecord{
		UserID:        c.UserID,
		Endpoint:      c.Endpoint,
		RequestID:     c.RequestID,
		RequestBytes:  c.RequestBytes,
		ResponseBytes: c.ResponseBytes,
		Status:        job.UsageSuccess,
		Duration:      c.Duration,
		EstimatedCost: EstimateCost(c.Endpoint),
		CreatedAt:     time.Now(),
	}
	if c.Err != nil {
		rec.Status = job.UsageError
		rec.ErrorMessage = c.Err.Error()
	}

	l.metrics.ObserveProviderCall(rec.Endpoint, string(rec.Status), rec.Duration, rec.EstimatedCost)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()

	if err := l.repo.AppendUsage(writeCtx, rec); err != nil {
		l.logger.Warn("failed to record usage",
			slog.Int64("user_id", rec.UserID),
			slog.String("endpoint", rec.Endpoint),
			slog.String("error", err.Error()),
		)
	}
}

// EndpointSummary aggregates the calls made to one endpoint label.
type EndpointSummary struct {
	Endpoint      string  `json:"endpoint"`
	Calls         int     `json:"calls"`
	Errors        int     `json:"errors"`
	EstimatedCost float64 `json:"estimatedCost"`
	RequestBytes  int64   `json:"requestBytes"`
	ResponseBytes int64   `json:"responseBytes"`
	DurationMs    int64   `json:"durationMs"`
}

// Summary aggregates a user's usage records.
type Summary struct {
	TotalCalls         int               `json:"totalCalls"`
	TotalErrors        int               `json:"totalErrors"`
	TotalEstimatedCost float64           `json:"totalEstimatedCost"`
	TotalRequestBytes  int64             `json:"totalRequestBytes"`
	TotalResponseBytes int64             `json:"totalResponseBytes"`
	Endpoints          []EndpointSummary `json:"endpoints"`
}

// Summarize aggregates records into totals and a per-endpoint breakdown
// sorted by endpoint label.
func Summarize(records []*job.UsageRecord) Summary {
	byEndpoint := make(map[string]*EndpointSummary)
	var s Summary
	for _, r := range records {
		e, ok := byEndpoint[r.Endpoint]
		if !ok {
			e = &EndpointSummary{Endpoint: r.Endpoint}
			byEndpoint[r.Endpoint] = e
		}
		e.Calls++
		e.EstimatedCost += r.EstimatedCost
		e.RequestBytes += int64(r.RequestBytes)
		e.ResponseBytes += int64(r.ResponseBytes)
		e.DurationMs += r.Duration.Milliseconds()

		s.TotalCalls++
		s.TotalEstimatedCost += r.EstimatedCost
		s.TotalRequestBytes += int64(r.RequestBytes)
		s.TotalResponseBytes += int64(r.ResponseBytes)
		if r.Status == job.UsageError {
			e.Errors++
			s.TotalErrors++
		}
	}

	s.Endpoints = make([]EndpointSummary, 0, len(byEndpoint))
	for _, e := range byEndpoint {
		s.Endpoints = append(s.Endpoints, *e)
	}
	slices.SortFunc(s.Endpoints, func(a, b EndpointSummary) int {
		switch {
		case a.Endpoint < b.Endpoint:
			return -1
		case a.Endpoint > b.Endpoint:
			return 1
		default:
			return 0
		}
	})
	return s
}
