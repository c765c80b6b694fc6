// Package external implements the ticket/API-spec fetcher collaborator
// (spec §6, contextpack.ExternalSource): given a prompt, recognize a
// ticket-key or API-reference pattern and fetch the referenced artifact
// to a local scratch path for inclusion in the ContextPack's allow-list.
package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// TicketFetcher recognizes ticket keys like "PROJ-1234" in a prompt and
// fetches the ticket body from a configured tracker base URL, caching the
// raw response under cacheDir. Grounded on the teacher's
// `internal/emergent/client.go` withRetry idiom (`shouldRetry`,
// exponential backoff, bounded attempts) generalized from the Emergent
// SDK's graph-object retry wrapper to a plain HTTP GET retry wrapper.
type TicketFetcher struct {
	BaseURL  string
	Token    string
	CacheDir string
	Client   *http.Client

	pattern *regexp.Regexp
}

// NewTicketFetcher creates a fetcher matching keys of the form PREFIX-123
// (e.g. "PROJ-1234"), fetched from baseURL/PREFIX-123.
func NewTicketFetcher(baseURL, token, cacheDir string) *TicketFetcher {
	return &TicketFetcher{
		BaseURL:  baseURL,
		Token:    token,
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: 10 * time.Second},
		pattern:  regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d+\b`),
	}
}

// Match implements contextpack.ExternalSource.
func (f *TicketFetcher) Match(prompt string) (string, bool) {
	m := f.pattern.FindString(prompt)
	if m == "" {
		return "", false
	}
	return m, true
}

// Fetch implements contextpack.ExternalSource: retrieves the ticket body
// and writes it to a cache file, returning its path.
func (f *TicketFetcher) Fetch(ctx context.Context, ref string) (string, error) {
	dest := filepath.Join(f.CacheDir, cacheFileName(ref))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	url := f.BaseURL + "/" + ref
	var body []byte
	err := withRetry(ctx, fmt.Sprintf("fetch ticket %s", ref), 3, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if f.Token != "" {
			req.Header.Set("Authorization", "Bearer "+f.Token)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("ticket fetch %s: server error %d", ref, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return errPermanent{fmt.Errorf("ticket fetch %s: status %d", ref, resp.StatusCode)}
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
		return "", fmt.Errorf("writing fetched ticket %s: %w", ref, err)
	}
	return dest, nil
}

func cacheFileName(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8]) + ".json"
}

// Composite fans a single contextpack.ExternalSource slot out across
// several fetchers (e.g. TicketFetcher and APISpecFetcher), trying each
// in order and using the first that recognizes the prompt.
type Composite struct {
	Sources []interface {
		Match(prompt string) (string, bool)
		Fetch(ctx context.Context, ref string) (string, error)
	}
}

// Match implements contextpack.ExternalSource.
func (c *Composite) Match(prompt string) (string, bool) {
	for _, s := range c.Sources {
		if ref, ok := s.Match(prompt); ok {
			return ref, true
		}
	}
	return "", false
}

// Fetch implements contextpack.ExternalSource: re-matches ref against
// each source to find its owner, since Match already picked ref
// from exactly one of them in the same turn.
func (c *Composite) Fetch(ctx context.Context, ref string) (string, error) {
	for _, s := range c.Sources {
		if match, ok := s.Match(ref); ok && match == ref {
			return s.Fetch(ctx, ref)
		}
	}
	return "", fmt.Errorf("no external source recognizes ref %q", ref)
}

// errPermanent wraps an error that withRetry must not retry (a definitive
// 4xx response, not a transient failure).
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// shouldRetry mirrors the teacher's retry classifier: network and timeout
// errors are retryable, anything wrapped in errPermanent is not.
func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var perm errPermanent
	if errors.As(err, &perm) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return true
}

// withRetry runs fn with exponential backoff, up to maxAttempts total
// tries (the teacher's withRetry generalized to a bounded loop — the
// controller's turn-latency budget rules out the teacher's optional
// infinite-retry mode).
func withRetry(ctx context.Context, operation string, maxAttempts int, fn func() error) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return fmt.Errorf("%s: %w", operation, lastErr)
		}
	}
	return fmt.Errorf("%s: exhausted %d attempts: %w", operation, maxAttempts, lastErr)
}
