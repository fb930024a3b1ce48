package sentinel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/metrics"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	ProcessURL   string
	Retry        RetryPolicy
	// Cache is optional.
	Cache Cache
	// HTTPClient is the base transport for token and process requests.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	processURL string
	http       *http.Client
	retry      RetryPolicy
	cache      Cache
}

// Image is a fetched scene. Raw holds the provider response bytes.
type Image struct {
	Raster    *georast.Raster
	Raw       []byte
	FromCache bool
	Attempts  int
}

// NewClient authenticates lazily: the first request fetches a token with
// the OAuth2 client credentials grant.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, &AuthError{Err: errMissingCredentials}
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ProcessURL == "" {
		cfg.ProcessURL = DefaultProcessURL
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	return &Client{
		processURL: cfg.ProcessURL,
		http:       cc.Client(ctx),
		retry:      cfg.Retry.withDefaults(),
		cache:      cfg.Cache,
	}, nil
}

// Fetch downloads the image described by req, retrying transient failures
// according to the client's retry policy. It returns either a complete image
// or an error, never partial data.
func (c *Client) Fetch(ctx context.Context, req Request) (*Image, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}
	key := cacheKey(payload)

	if c.cache != nil {
		if b, ok, err := c.cache.Get(ctx, key); err != nil {
			logger.L().Warn("satellite_cache_get_failed", "err", err)
		} else if ok {
			if r, err := Decode(b, req); err == nil {
				metrics.SatelliteCacheHits.Inc()
				logger.L().Info("satellite_cache_hit", "key", key[:12])
				return &Image{Raster: r, Raw: b, FromCache: true}, nil
			}
			logger.L().Warn("satellite_cache_entry_invalid", "key", key[:12])
		}
	}

	var body []byte
	attempts := 0
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.retry.AttemptTimeout)
		defer cancel()
		b, err := c.post(actx, payload)
		if err == nil {
			metrics.SatelliteAttempts.WithLabelValues("ok").Inc()
			body = b
			return nil
		}
		if !c.retry.retryable(err) {
			metrics.SatelliteAttempts.WithLabelValues("fatal").Inc()
			return backoff.Permanent(err)
		}
		metrics.SatelliteAttempts.WithLabelValues("retry").Inc()
		logger.L().Warn("satellite_attempt_failed", "attempt", attempts, "err", err)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(c.retry.backOff(), ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("satellite fetch: %w", ctx.Err())
		}
		if c.retry.retryable(err) {
			return nil, &RetriesExhaustedError{Attempts: attempts, Last: err}
		}
		return nil, err
	}

	r, err := Decode(body, req)
	if err != nil {
		return nil, &ProviderError{Status: http.StatusOK, Message: "undecodable image", Err: err}
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			logger.L().Warn("satellite_cache_set_failed", "err", err)
		}
	}
	logger.L().Info("satellite_fetched", "width", r.Width, "height", r.Height, "attempts", attempts, "bytes", len(body))
	return &Image{Raster: r, Raw: body, Attempts: attempts}, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.processURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/tiff")

	resp, err := c.http.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return nil, &AuthError{Status: status, Err: err}
		}
		return nil, &ProviderError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: "reading response", Retryable: true, Err: err}
	}
	return classify(resp.StatusCode, body)
}

// classify maps a provider response to its body or a typed error.
func classify(status int, body []byte) ([]byte, error) {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	switch {
	case status == http.StatusOK:
		if len(body) == 0 {
			return nil, &ProviderError{Status: status, Message: "empty response"}
		}
		return body, nil
	case status == http.StatusPaymentRequired:
		return nil, &QuotaExceededError{Status: status, Message: msg}
	case (status == http.StatusForbidden || status == http.StatusTooManyRequests) && isQuotaMessage(msg):
		return nil, &QuotaExceededError{Status: status, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{Status: status, Err: errors.New(msg)}
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return nil, &ProviderError{Status: status, Message: msg, Retryable: true}
	}
	return nil, &ProviderError{Status: status, Message: msg}
}

func isQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "quota") || strings.Contains(m, "processing units")
}
