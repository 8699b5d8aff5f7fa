// Package directions fetches driving routes from the external provider with
// retry, credential rotation, and a deterministic straight-line fallback.
package directions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
)

// DefaultTimeout bounds each individual provider attempt.
const DefaultTimeout = 15 * time.Second

const (
	backoffBase = 2 * time.Second
	maxTries    = 5

	fallbackPoints          = 21
	fallbackDurationSeconds = 60
)

// ProviderStatusError reports a non-200 response from the routing provider.
type ProviderStatusError struct {
	StatusCode int
	URL        string
}

func (e *ProviderStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Options configures a Client. Zero values take defaults.
type Options struct {
	// Endpoint is the driving-directions URL requests POST to. Empty
	// disables the provider entirely; every fetch returns the fallback.
	Endpoint string
	// Credentials is the rotating API key pool. Empty means keyless requests.
	Credentials []string
	// Timeout bounds each attempt. DefaultTimeout when zero.
	Timeout time.Duration
	// CacheEntries bounds the route cache. 0 disables caching.
	CacheEntries int
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	// SleepFn replaces the backoff wait in tests. It returns an error when
	// the wait is cut short by context cancellation.
	SleepFn func(ctx context.Context, d time.Duration) error
	// RandIntN replaces the credential draw in tests.
	RandIntN func(n int) int
}

// Client fetches routes from the provider. Callers never observe an error:
// once the retry budget is exhausted every failure degrades to the
// straight-line fallback. Safe for concurrent use.
type Client struct {
	endpoint    string
	credentials []string
	timeout     time.Duration
	httpClient  *http.Client
	cache       *routeCache
	sleep       func(ctx context.Context, d time.Duration) error
	randIntN    func(n int) int
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoint:    opts.Endpoint,
		credentials: slices.Clone(opts.Credentials),
		timeout:     opts.Timeout,
		httpClient:  opts.HTTPClient,
		sleep:       opts.SleepFn,
		randIntN:    opts.RandIntN,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.randIntN == nil {
		c.randIntN = rand.IntN
	}
	if opts.CacheEntries > 0 {
		c.cache = newRouteCache(opts.CacheEntries)
	}
	return c
}

// FetchRoute returns a route from start to end. Failed attempts retry with
// exponential backoff; the final try switches to a fresh random credential;
// when every try fails the straight-line fallback is returned.
func (c *Client) FetchRoute(ctx context.Context, start, end geo.Point) model.Route {
	if c.endpoint == "" {
		return Fallback(start, end)
	}
	if c.cache != nil {
		if r, ok := c.cache.get(start, end); ok {
			return r
		}
	}

	credential := c.pickCredential()
	for attempt := 0; attempt < maxTries; attempt++ {
		if attempt == maxTries-1 {
			credential = c.pickCredential()
		}
		route, err := c.fetchOnce(ctx, start, end, credential)
		if err == nil {
			if c.cache != nil {
				c.cache.put(start, end, route)
			}
			return route
		}
		if attempt == maxTries-1 {
			log.Printf("[directions] route request failed %d times, falling back to straight line: %v", maxTries, err)
			break
		}
		delay := backoffBase << attempt
		log.Printf("[directions] route request attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			log.Printf("[directions] retry wait interrupted, falling back to straight line: %v", sleepErr)
			break
		}
	}
	return Fallback(start, end)
}

func (c *Client) pickCredential() string {
	if len(c.credentials) == 0 {
		return ""
	}
	return c.credentials[c.randIntN(len(c.credentials))]
}

type providerRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type providerResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Summary struct {
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

// fetchOnce performs a single provider attempt. The request carries the two
// endpoints as lng,lat pairs; the response polyline arrives the same way
// and is flipped to lat,lng.
func (c *Client) fetchOnce(ctx context.Context, start, end geo.Point, credential string) (model.Route, error) {
	payload, err := json.Marshal(providerRequest{
		Coordinates: [][2]float64{{start.Lng, start.Lat}, {end.Lng, end.Lat}},
	})
	if err != nil {
		return model.Route{}, fmt.Errorf("marshal route request: %w", err)
	}

	endpoint := c.endpoint
	if credential != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "api_key=" + url.QueryEscape(credential)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.Route{}, fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Route{}, fmt.Errorf("post route request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.Route{}, &ProviderStatusError{StatusCode: resp.StatusCode, URL: c.endpoint}
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.Route{}, fmt.Errorf("decode route response: %w", err)
	}
	if len(parsed.Features) == 0 || len(parsed.Features[0].Geometry.Coordinates) == 0 {
		return model.Route{}, errors.New("route response has no feature coordinates")
	}

	coords := parsed.Features[0].Geometry.Coordinates
	path := make([]geo.Point, 0, len(coords))
	for _, pair := range coords {
		if len(pair) < 2 {
			return model.Route{}, errors.New("route response has a malformed coordinate pair")
		}
		path = append(path, geo.Point{Lat: pair[1], Lng: pair[0]})
	}
	return model.Route{Path: path, DurationSeconds: parsed.Features[0].Properties.Summary.Duration}, nil
}

// Fallback interpolates a straight 21-point polyline from start to end with
// an advisory duration of 60 seconds.
func Fallback(start, end geo.Point) model.Route {
	path := make([]geo.Point, fallbackPoints)
	for i := range path {
		f := float64(i) / float64(fallbackPoints-1)
		path[i] = geo.Point{
			Lat: start.Lat + (end.Lat-start.Lat)*f,
			Lng: start.Lng + (end.Lng-start.Lng)*f,
		}
	}
	return model.Route{Path: path, DurationSeconds: fallbackDurationSeconds}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
