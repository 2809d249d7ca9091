// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/yutupremsatu/dracinbox/internal/canonical"
	"github.com/yutupremsatu/dracinbox/internal/crypto"
	"github.com/yutupremsatu/dracinbox/internal/log"
	"github.com/yutupremsatu/dracinbox/internal/metrics"
	"github.com/yutupremsatu/dracinbox/internal/resilience"
)

// maxMetadataBody caps metadata responses; upstream detail payloads are small
// and an unbounded read is a memory hazard on a hostile upstream.
const maxMetadataBody = 8 << 20

// ClientOptions configures the metadata client.
type ClientOptions struct {
	// BaseURLs maps each provider to its metadata edge base URL.
	BaseURLs map[canonical.Provider]string
	// EnvelopeSecret opens encrypted {"data": ...} responses.
	EnvelopeSecret string
	// HTTPClient is optional; a 15s-timeout client is used when nil.
	HTTPClient *http.Client
	// RequestsPerSecond rate-limits all upstream metadata calls combined.
	RequestsPerSecond float64
	// BreakerThreshold and BreakerReset configure the per-provider breaker.
	BreakerThreshold int
	BreakerReset     time.Duration
}

// Client fetches and normalizes provider metadata. It owns envelope
// decryption, per-provider circuit breaking and a shared upstream rate limit.
type Client struct {
	registry *Registry
	bases    map[canonical.Provider]string
	secret   string
	http     *http.Client
	limiter  *rate.Limiter
	breakers map[canonical.Provider]*resilience.CircuitBreaker
	logger   zerolog.Logger
}

// NewClient creates a metadata client over the given registry.
func NewClient(registry *Registry, opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	breakers := make(map[canonical.Provider]*resilience.CircuitBreaker)
	for _, p := range canonical.Providers() {
		breakers[p] = resilience.NewCircuitBreaker(
			"metadata-"+string(p), opts.BreakerThreshold, opts.BreakerReset)
	}

	return &Client{
		registry: registry,
		bases:    opts.BaseURLs,
		secret:   opts.EnvelopeSecret,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breakers: breakers,
		logger:   log.WithComponent("metadata"),
	}
}

// Detail fetches and normalizes a title's detail payload.
func (c *Client) Detail(ctx context.Context, p canonical.Provider, titleID string) (*canonical.Title, error) {
	adapter, err := c.registry.ForProvider(p)
	if err != nil {
		return nil, err
	}

	raw, err := c.fetch(ctx, p, "detail", url.Values{"id": {titleID}})
	if err != nil {
		return nil, err
	}

	title, err := adapter.NormalizeDetail(raw)
	if err != nil {
		c.observeNormalize(p, err)
		return nil, err
	}
	title.TitleID = firstString(title.TitleID, titleID)
	if err := title.Validate(); err != nil {
		nerr := &NormalizationError{Provider: p, Reason: ReasonUnrecognizedShape, Detail: err.Error()}
		c.observeNormalize(p, nerr)
		return nil, nerr
	}
	metrics.IncNormalize(string(p), "ok")
	metrics.ObserveNormalizedEpisodes(string(p), len(title.Episodes))
	return title, nil
}

// Episodes fetches and normalizes episode data. selector is the 1-based
// episode number for upstreams that serve one episode per request.
func (c *Client) Episodes(ctx context.Context, p canonical.Provider, titleID string, selector int) ([]canonical.Episode, error) {
	adapter, err := c.registry.ForProvider(p)
	if err != nil {
		return nil, err
	}

	q := url.Values{"id": {titleID}}
	if selector > 0 {
		q.Set("ep", strconv.Itoa(selector))
	}
	raw, err := c.fetch(ctx, p, "episodes", q)
	if err != nil {
		return nil, err
	}

	episodes, err := adapter.NormalizeEpisodes(raw, selector)
	if err != nil {
		c.observeNormalize(p, err)
		return nil, err
	}
	metrics.IncNormalize(string(p), "ok")
	return episodes, nil
}

func (c *Client) observeNormalize(p canonical.Provider, err error) {
	reason := "error"
	if ne, ok := IsNormalizationError(err); ok {
		reason = string(ne.Reason)
	}
	metrics.IncNormalize(string(p), reason)
	c.logger.Warn().Err(err).Str(log.FieldProvider, string(p)).Msg("normalization failed")
}

func (c *Client) fetch(ctx context.Context, p canonical.Provider, endpoint string, q url.Values) ([]byte, error) {
	base, ok := c.bases[p]
	if !ok || base == "" {
		return nil, fmt.Errorf("no metadata base configured for provider %s", p)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := strings.TrimRight(base, "/") + "/" + endpoint + "?" + q.Encode()
	var body []byte
	err := c.breakers[p].Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close() // #nosec G307
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("metadata fetch %s: status %d", endpoint, res.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(res.Body, maxMetadataBody))
		return err
	})
	if err != nil {
		return nil, err
	}

	plain, err := crypto.OpenEnvelope(body, c.secret)
	if err != nil {
		metrics.IncEnvelopeDecrypt("malformed")
		return nil, &NormalizationError{Provider: p, Reason: ReasonUnrecognizedShape, Detail: "encrypted envelope failed to open"}
	}
	if !bytes.Equal(plain, body) {
		metrics.IncEnvelopeDecrypt("ok")
	}
	return plain, nil
}
