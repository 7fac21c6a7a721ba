package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/siostam/siostam/pkg/errors"
	"github.com/siostam/siostam/pkg/httputil"
)

// DefaultTimeout bounds a single origin fetch when the config does not
// specify one. A hung origin must never block the refresh cycle.
const DefaultTimeout = 10 * time.Second

// HTTPOrigin fetches service descriptions from an HTTP endpoint that
// serves a JSON [Payload]. Transient failures (network errors, 5xx) are
// retried with exponential backoff inside the per-origin timeout.
type HTTPOrigin struct {
	name    string
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

// HTTPOption customizes an HTTPOrigin.
type HTTPOption func(*HTTPOrigin)

// WithToken sets a bearer token sent in the Authorization header.
func WithToken(token string) HTTPOption {
	return func(o *HTTPOrigin) { o.token = token }
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(o *HTTPOrigin) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClient overrides the HTTP client, primarily for tests.
func WithClient(c *http.Client) HTTPOption {
	return func(o *HTTPOrigin) { o.client = c }
}

// NewHTTPOrigin creates an origin that GETs the given URL.
func NewHTTPOrigin(name, url string, opts ...HTTPOption) *HTTPOrigin {
	o := &HTTPOrigin{
		name:    name,
		url:     url,
		timeout: DefaultTimeout,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name identifies the origin.
func (o *HTTPOrigin) Name() string { return o.name }

// Fetch retrieves and decodes the origin's payload.
func (o *HTTPOrigin) Fetch(ctx context.Context) ([]Description, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var payload Payload
	err := httputil.Retry(ctx, 3, 250*time.Millisecond, func() error {
		return o.fetchOnce(ctx, &payload)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeFetchTimeout, err, "origin %s: deadline exceeded", o.name)
		}
		if errors.Is(err, errors.ErrCodeFetchMalformed) {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, err, "origin %s: fetch %s", o.name, o.url)
	}
	return payload.Services, nil
}

func (o *HTTPOrigin) fetchOnce(ctx context.Context, payload *Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return httputil.Retryable(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}

	*payload = Payload{}
	if err := json.NewDecoder(resp.Body).Decode(payload); err != nil {
		return errors.Wrap(errors.ErrCodeFetchMalformed, err, "origin %s: malformed payload", o.name)
	}
	return nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code >= 500:
		return httputil.Retryable(fmt.Errorf("status %d", code))
	default:
		return fmt.Errorf("status %d", code)
	}
}

// Ensure HTTPOrigin implements Origin.
var _ Origin = (*HTTPOrigin)(nil)
