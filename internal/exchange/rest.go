package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRequestTimeout bounds every REST call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultRequestsPerSecond keeps adapters under the public rate limits
	// shared by all supported venues (burst of a few requests is fine).
	DefaultRequestsPerSecond = 4
	defaultBurst             = 8
)

// RestCore is the HTTP plumbing shared by all adapters: one rate-limited
// client per venue, JSON decoding, and error classification. Adapters own
// their endpoints and payload shapes.
type RestCore struct {
	Exchange  string
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Limiter   *rate.Limiter
}

// NewRestCore builds the shared core for a venue.
func NewRestCore(exchange, baseURL, userAgent string) *RestCore {
	return &RestCore{
		Exchange:  exchange,
		BaseURL:   baseURL,
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: DefaultRequestTimeout},
		Limiter:   rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), defaultBurst),
	}
}

// Get performs a rate-limited GET on path with query params and decodes the
// JSON body into out. Failures are returned as *Error with the taxonomy
// classification.
func (rc *RestCore) Get(ctx context.Context, path string, params url.Values, out any) error {
	if err := rc.Limiter.Wait(ctx); err != nil {
		return NewError(rc.Exchange, Transient, err)
	}

	u := rc.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewError(rc.Exchange, InvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rc.UserAgent != "" {
		req.Header.Set("User-Agent", rc.UserAgent)
	}

	resp, err := rc.HTTP.Do(req)
	if err != nil {
		// Timeouts, resets and DNS failures all land here.
		return NewError(rc.Exchange, Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		e := &Error{
			Kind:     ClassifyStatus(resp.StatusCode),
			Exchange: rc.Exchange,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("GET %s: %s", path, string(body)),
		}
		if e.Kind == RateLimited {
			e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return e
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(rc.Exchange, SchemaMismatch, fmt.Errorf("GET %s: %w", path, err))
	}
	return nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}
