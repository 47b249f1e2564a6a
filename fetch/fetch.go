// Package fetch retrieves tile payloads over HTTP and turns them into images.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MickWest/Sitrec2/tilekey"
)

var (
	// ErrAborted is returned when the context was cancelled before or during a fetch.
	// It is an outcome, not a failure: callers drop it without logging or retrying.
	ErrAborted  = errors.New("fetch aborted")
	ErrNotFound = errors.New("tile not found")
)

const (
	DefaultRetries = 3
	DefaultBackoff = 100 * time.Millisecond
)

// Source builds the service URLs for a tile. An empty string means the service has nothing for it.
type Source interface {
	ElevationURL(key tilekey.Key) string
	TextureURL(key tilekey.Key) string
}

// Templates is a Source made of URL templates with {z}, {x}, {y} and {-y} (TMS row) placeholders.
type Templates struct {
	Elevation string `toml:"elevation"`
	Texture   string `toml:"texture"`
}

func (t Templates) ElevationURL(key tilekey.Key) string {
	return Expand(t.Elevation, key)
}

func (t Templates) TextureURL(key tilekey.Key) string {
	return Expand(t.Texture, key)
}

func Expand(template string, key tilekey.Key) string {
	if template == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(key.Z),
		"{x}", strconv.Itoa(key.X),
		"{y}", strconv.Itoa(key.Y),
		"{-y}", strconv.Itoa((1<<uint(key.Z))-1-key.Y),
	)
	return r.Replace(template)
}

// Fetcher retrieves the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is a Fetcher that retries transient failures with a fixed back-off.
// A 404 and a cancelled context are final.
type HTTPFetcher struct {
	Client  *http.Client
	Retries int
	Backoff time.Duration
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	op := func() error {
		d, err := f.fetchOnce(ctx, url)
		if errors.Is(err, ErrAborted) || errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		data = d
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(f.Backoff), uint64(max(f.Retries, 0))), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		switch {
		case errors.Is(err, ErrAborted) || errors.Is(err, ErrNotFound):
			return nil, err
		case ctx.Err() != nil:
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("fetch %s after %d retries: %w", url, f.Retries, err)
	}
	return data, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ErrAborted
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/webp,image/png,image/tiff,image/*,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tile server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// Kind names the service a tile payload comes from.
type Kind string

const (
	Elevation Kind = "elevation"
	Texture   Kind = "texture"
)

// TileFetcher fetches a payload knowing which tile it belongs to, so it can be cached by key.
type TileFetcher interface {
	FetchTile(ctx context.Context, kind Kind, key tilekey.Key, url string) ([]byte, error)
}

// Direct adapts a Fetcher that only needs the URL.
type Direct struct {
	Fetcher
}

func (d Direct) FetchTile(ctx context.Context, _ Kind, _ tilekey.Key, url string) ([]byte, error) {
	return d.Fetch(ctx, url)
}
