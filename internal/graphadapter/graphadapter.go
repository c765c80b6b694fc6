// Package graphadapter is the Neo4j-backed implementation of
// contextpack.GraphSource: proof-chain resolution (UI origin, federation),
// policy seed lookup, and component-contract storage. It is the one
// concrete graph adapter the kernel ships against the narrow interface
// defined in internal/contextpack/collaborators.go.
package graphadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

// Adapter wraps a neo4j driver with the typed, lexeme-driven queries the
// turn controller needs for §4.2 step 6 (proof chains) and step 5's
// policy-seed retrieval lane.
type Adapter struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger

	maxRetries int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithMaxRetries overrides the default bounded retry count (3).
func WithMaxRetries(n int) Option {
	return func(a *Adapter) { a.maxRetries = n }
}

// New dials a Neo4j instance. database may be "" to use the server default.
func New(ctx context.Context, uri, username, password, database string, opts ...Option) (*Adapter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	a := &Adapter{
		driver:     driver,
		database:   database,
		logger:     slog.Default(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Close releases the underlying driver's connection pool.
func (a *Adapter) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}

func (a *Adapter) queryParams() func(*neo4j.ExecuteQueryConfiguration) {
	if a.database == "" {
		return func(*neo4j.ExecuteQueryConfiguration) {}
	}
	return neo4j.ExecuteQueryWithDatabase(a.database)
}

// ResolveUIOriginChain implements contextpack.GraphSource. It walks the
// ORIGINATES_FROM chain backward from any Component node whose name matches
// one of the given lexemes, returning the hops in root-to-leaf order.
func (a *Adapter) ResolveUIOriginChain(ctx context.Context, lexemes []string) (contextpack.ProofChainResult, error) {
	return a.resolveChain(ctx, contextpack.ProofChainUIOrigin, lexemes, `
		MATCH (c:Component)
		WHERE any(l IN $lexemes WHERE toLower(c.name) CONTAINS toLower(l))
		MATCH path = (c)-[:ORIGINATES_FROM*0..8]->(origin)
		WHERE NOT (origin)-[:ORIGINATES_FROM]->()
		RETURN [n IN reverse(nodes(path)) | {stage: labels(n)[0], ref: coalesce(n.ref, n.name)}] AS hops
		ORDER BY length(path) DESC
		LIMIT 1
	`)
}

// ResolveFederationChain implements contextpack.GraphSource. It walks the
// FEDERATES_TO chain forward from a matching Component to the federation
// root that ultimately owns it.
func (a *Adapter) ResolveFederationChain(ctx context.Context, lexemes []string) (contextpack.ProofChainResult, error) {
	return a.resolveChain(ctx, contextpack.ProofChainFederation, lexemes, `
		MATCH (c:Component)
		WHERE any(l IN $lexemes WHERE toLower(c.name) CONTAINS toLower(l))
		MATCH path = (c)-[:FEDERATES_TO*0..8]->(root)
		WHERE NOT (root)-[:FEDERATES_TO]->()
		RETURN [n IN nodes(path) | {stage: labels(n)[0], ref: coalesce(n.ref, n.name)}] AS hops
		ORDER BY length(path) DESC
		LIMIT 1
	`)
}

func (a *Adapter) resolveChain(ctx context.Context, kind contextpack.ProofChainKind, lexemes []string, cypher string) (contextpack.ProofChainResult, error) {
	if len(lexemes) == 0 {
		return contextpack.ProofChainResult{Kind: kind, Resolved: false}, nil
	}
	var result contextpack.ProofChainResult
	err := a.withRetry(ctx, "resolve "+string(kind)+" chain", func() error {
		res, err := neo4j.ExecuteQuery(ctx, a.driver, cypher,
			map[string]any{"lexemes": lexemes}, neo4j.EagerResultTransformer, a.queryParams())
		if err != nil {
			return err
		}
		if len(res.Records) == 0 {
			result = contextpack.ProofChainResult{Kind: kind, Resolved: false}
			return nil
		}
		raw, _, err := neo4j.GetRecordValue[[]any](res.Records[0], "hops")
		if err != nil || len(raw) == 0 {
			result = contextpack.ProofChainResult{Kind: kind, Resolved: false}
			return nil
		}
		links := make([]contextpack.ProofChainLink, 0, len(raw))
		for _, item := range raw {
			hop, ok := item.(map[string]any)
			if !ok {
				continue
			}
			links = append(links, contextpack.ProofChainLink{
				Stage: fmt.Sprint(hop["stage"]),
				Ref:   fmt.Sprint(hop["ref"]),
			})
		}
		result = contextpack.ProofChainResult{Kind: kind, Resolved: len(links) > 0, Links: links}
		return nil
	})
	if err != nil {
		return contextpack.ProofChainResult{}, err
	}
	return result, nil
}

// PolicySeeds implements contextpack.GraphSource, returning policy node
// refs whose name matches one of the given lexemes.
func (a *Adapter) PolicySeeds(ctx context.Context, lexemes []string) ([]string, error) {
	if len(lexemes) == 0 {
		return nil, nil
	}
	var seeds []string
	err := a.withRetry(ctx, "resolve policy seeds", func() error {
		res, err := neo4j.ExecuteQuery(ctx, a.driver, `
			MATCH (p:PolicySeed)
			WHERE any(l IN $lexemes WHERE toLower(p.name) CONTAINS toLower(l))
			RETURN DISTINCT p.ref AS ref
			ORDER BY ref
		`, map[string]any{"lexemes": lexemes}, neo4j.EagerResultTransformer, a.queryParams())
		if err != nil {
			return err
		}
		seeds = make([]string, 0, len(res.Records))
		for _, rec := range res.Records {
			ref, _, err := neo4j.GetRecordValue[string](rec, "ref")
			if err != nil {
				continue
			}
			seeds = append(seeds, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seeds, nil
}

// UpsertComponentContract merges a Component node by name and its
// ORIGINATES_FROM/FEDERATES_TO edges to the named components, used by seed
// tooling and tests to populate the graph the proof-chain queries walk.
// No input/output surface is stored.
func (a *Adapter) UpsertComponentContract(ctx context.Context, name string, originsFrom, federatesTo []string) error {
	return a.withRetry(ctx, "upsert component contract", func() error {
		_, err := neo4j.ExecuteQuery(ctx, a.driver, `
			MERGE (c:Component {name: $name})
			FOREACH (originName IN coalesce($origins, []) |
				MERGE (o:Component {name: originName})
				MERGE (c)-[:ORIGINATES_FROM]->(o))
			FOREACH (fedName IN coalesce($federates, []) |
				MERGE (f:Component {name: fedName})
				MERGE (c)-[:FEDERATES_TO]->(f))
		`, map[string]any{"name": name, "origins": originsFrom, "federates": federatesTo},
			neo4j.EagerResultTransformer, a.queryParams())
		return err
	})
}

// errPermanent marks an error withRetry must not retry.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var permanent errPermanent
	if errors.As(err, &permanent) {
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
	switch err.Error() {
	case "EOF", "unexpected EOF", "connection reset by peer", "broken pipe":
		return true
	}
	return false
}

// withRetry is the same bounded exponential-backoff shape internal/external
// uses, generalized from the teacher's internal/emergent/client.go retry
// loop (minus its infinite "long outage mode", which doesn't fit a turn's
// latency budget).
func (a *Adapter) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
			}
			backoff *= 2
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !shouldRetry(err) {
			return fmt.Errorf("%s: %w", operation, err)
		}
		a.logger.Warn("retrying graph query", "operation", operation, "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", operation, a.maxRetries+1, lastErr)
}
