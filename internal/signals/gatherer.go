package signals

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/internal/model"
)

// Gatherer collects a signal bundle for a subject entity. Implementations
// must not return errors: a failed source is reported through the bundle's
// negative-default fields.
type Gatherer interface {
	Gather(ctx context.Context, entity model.SubjectEntity) Bundle
}

// HTTPGatherer probes the entity's website and runs the stub connectors.
// All sources run concurrently under a shared deadline so one slow source
// cannot hold up decision creation.
type HTTPGatherer struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewHTTPGatherer creates a gatherer with a fixed per-gather timeout.
func NewHTTPGatherer(timeout time.Duration, logger *slog.Logger) *HTTPGatherer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGatherer{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

// Gather collects all sources concurrently. It never returns an error.
func (g *HTTPGatherer) Gather(ctx context.Context, entity model.SubjectEntity) Bundle {
	start := time.Now()
	bundle := emptyBundle()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// Collectors only write their own bundle field, so no mutex is needed.
	// Errors are absorbed per source; the group exists for the fan-out and
	// the shared deadline.
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		bundle.Website = g.probeWebsite(ctx, entity)
		return nil
	})
	eg.Go(func() error {
		bundle.Social = g.collectSocial(ctx, entity)
		return nil
	})
	eg.Go(func() error {
		bundle.Reviews = g.collectReviews(ctx, entity)
		return nil
	})
	_ = eg.Wait()

	bundle.GatheredAt = start.UTC()
	bundle.ElapsedMs = time.Since(start).Milliseconds()
	return bundle
}

// probeWebsite checks reachability of the entity's domain.
func (g *HTTPGatherer) probeWebsite(ctx context.Context, entity model.SubjectEntity) WebsiteSignals {
	sig := WebsiteSignals{StatusCode: -1, ResponseMs: -1}
	if entity.Domain == nil || *entity.Domain == "" {
		return sig
	}
	sig.Checked = true

	target := *entity.Domain
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		g.logger.Debug("signals: build website request", "domain", *entity.Domain, "error", err)
		return sig
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug("signals: website unreachable", "domain", *entity.Domain, "error", err)
		return sig
	}
	defer func() { _ = resp.Body.Close() }()

	sig.Reachable = resp.StatusCode < 500
	sig.StatusCode = resp.StatusCode
	sig.Server = resp.Header.Get("Server")
	sig.ResponseMs = time.Since(start).Milliseconds()
	return sig
}

// collectSocial is a stub connector: no provider is wired yet, so it reports
// the not-collected defaults.
func (g *HTTPGatherer) collectSocial(_ context.Context, _ model.SubjectEntity) SocialSignals {
	return SocialSignals{Presence: "unknown", Mentions: -1}
}

// collectReviews is a stub connector, same contract as collectSocial.
func (g *HTTPGatherer) collectReviews(_ context.Context, _ model.SubjectEntity) ReviewSignals {
	return ReviewSignals{Source: "none", Rating: -1, Count: -1}
}

// NoopGatherer returns empty bundles. Used in tests and when gathering is
// disabled by configuration.
type NoopGatherer struct{}

// Gather returns the negative-default bundle.
func (NoopGatherer) Gather(_ context.Context, _ model.SubjectEntity) Bundle {
	b := emptyBundle()
	b.GatheredAt = time.Now().UTC()
	return b
}
