package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// APISpecFetcher recognizes inline OpenAPI/REST references of the form
// "openapi:<service>/<path>" in a prompt and fetches the spec document
// from a configured registry base URL. Shares withRetry/shouldRetry with
// TicketFetcher — both are instances of the same "bounded-retry HTTP
// fetch, cache to a local path" shape spec §6 names as one collaborator
// family.
type APISpecFetcher struct {
	BaseURL  string
	CacheDir string
	Client   *http.Client

	pattern *regexp.Regexp
}

// NewAPISpecFetcher creates a fetcher matching "openapi:<ref>" citations.
func NewAPISpecFetcher(baseURL, cacheDir string) *APISpecFetcher {
	return &APISpecFetcher{
		BaseURL:  baseURL,
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: 10 * time.Second},
		pattern:  regexp.MustCompile(`openapi:[A-Za-z0-9_\-/]+`),
	}
}

// Match implements contextpack.ExternalSource.
func (f *APISpecFetcher) Match(prompt string) (string, bool) {
	m := f.pattern.FindString(prompt)
	if m == "" {
		return "", false
	}
	return m, true
}

// Fetch implements contextpack.ExternalSource.
func (f *APISpecFetcher) Fetch(ctx context.Context, ref string) (string, error) {
	dest := filepath.Join(f.CacheDir, cacheFileName(ref)+".yaml")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	path := ref[len("openapi:"):]
	url := f.BaseURL + "/" + path
	var body []byte
	err := withRetry(ctx, fmt.Sprintf("fetch api spec %s", ref), 3, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("api spec fetch %s: server error %d", ref, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return errPermanent{fmt.Errorf("api spec fetch %s: status %d", ref, resp.StatusCode)}
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating fetch cache dir: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("writing fetched api spec %s: %w", ref, err)
	}
	return dest, nil
}
