// Package index is the lexical/symbol index adapter backing
// contextpack.IndexSource: a small SQLite-backed inverted index over
// source file text and declared Go symbols, queried with plain LIKE
// lookups. It deliberately stays minimal — a full AST/template index
// builder is out of scope (spec §1).
package index

import (
	"context"
	"database/sql"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

const schema = `
CREATE TABLE IF NOT EXISTS lines (
	path TEXT NOT NULL,
	lineno INTEGER NOT NULL,
	text TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS symbols (
	path TEXT NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lines_text ON lines(text);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
`

// Index is a lexical/symbol lookup store for one checked-out repository.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path. Pass ":memory:"
// for an ephemeral, process-local index.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Reset clears all indexed content, used before a full rebuild.
func (idx *Index) Reset(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, "DELETE FROM lines"); err != nil {
		return err
	}
	_, err := idx.db.ExecContext(ctx, "DELETE FROM symbols")
	return err
}

// IndexRepo walks root, storing every non-blank line for lexical search and
// every top-level Go declaration (func, type, const, var) as a symbol.
// Non-.go files are indexed for lexical search only.
func (idx *Index) IndexRepo(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if err := idx.indexFileLines(ctx, rel, path); err != nil {
			return fmt.Errorf("indexing %s: %w", rel, err)
		}
		if strings.HasSuffix(path, ".go") {
			if err := idx.indexGoSymbols(ctx, rel, path); err != nil {
				return fmt.Errorf("indexing symbols in %s: %w", rel, err)
			}
		}
		return nil
	})
}

func (idx *Index) indexFileLines(ctx context.Context, rel, abs string) error {
	content, err := readFileLines(abs)
	if err != nil {
		return nil // skip unreadable/binary files rather than failing the whole walk
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO lines (path, lineno, text) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, line := range content {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, rel, i+1, line); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (idx *Index) indexGoSymbols(ctx context.Context, rel, abs string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, abs, nil, 0)
	if err != nil {
		return nil // not valid Go source, skip symbol extraction
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO symbols (path, name, kind) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if _, err := stmt.ExecContext(ctx, rel, d.Name.Name, "func"); err != nil {
				return err
			}
		case *ast.GenDecl:
			kind := d.Tok.String()
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					if _, err := stmt.ExecContext(ctx, rel, s.Name.Name, kind); err != nil {
						return err
					}
				case *ast.ValueSpec:
					for _, name := range s.Names {
						if _, err := stmt.ExecContext(ctx, rel, name.Name, kind); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return tx.Commit()
}

// Lexical implements contextpack.IndexSource: per-path hit count across
// matching lines, scored by number of matching lines.
func (idx *Index) Lexical(ctx context.Context, lexemes []string) ([]contextpack.IndexHit, error) {
	if len(lexemes) == 0 {
		return nil, nil
	}
	seen := map[string]float64{}
	for _, lex := range lexemes {
		rows, err := idx.db.QueryContext(ctx,
			"SELECT path, COUNT(*) FROM lines WHERE lower(text) LIKE ? GROUP BY path",
			"%"+strings.ToLower(lex)+"%")
		if err != nil {
			return nil, fmt.Errorf("lexical query: %w", err)
		}
		if err := accumulateCounts(rows, seen); err != nil {
			return nil, err
		}
	}
	return toHits(seen, ""), nil
}

// Symbols implements contextpack.IndexSource: matches declared Go symbol
// names against the lexemes, one hit per (path, symbol).
func (idx *Index) Symbols(ctx context.Context, lexemes []string) ([]contextpack.IndexHit, error) {
	if len(lexemes) == 0 {
		return nil, nil
	}
	var hits []contextpack.IndexHit
	for _, lex := range lexemes {
		rows, err := idx.db.QueryContext(ctx,
			"SELECT path, name FROM symbols WHERE lower(name) LIKE ? ORDER BY path, name",
			"%"+strings.ToLower(lex)+"%")
		if err != nil {
			return nil, fmt.Errorf("symbol query: %w", err)
		}
		for rows.Next() {
			var path, name string
			if err := rows.Scan(&path, &name); err != nil {
				rows.Close()
				return nil, err
			}
			hits = append(hits, contextpack.IndexHit{Path: path, Symbol: name, Score: 1})
		}
		rows.Close()
	}
	return hits, nil
}

func accumulateCounts(rows *sql.Rows, seen map[string]float64) error {
	defer rows.Close()
	for rows.Next() {
		var path string
		var count float64
		if err := rows.Scan(&path, &count); err != nil {
			return err
		}
		seen[path] += count
	}
	return rows.Err()
}

func toHits(seen map[string]float64, symbol string) []contextpack.IndexHit {
	hits := make([]contextpack.IndexHit, 0, len(seen))
	for path, score := range seen {
		hits = append(hits, contextpack.IndexHit{Path: path, Symbol: symbol, Score: score})
	}
	return hits
}

// maxIndexedFileSize bounds how much of a single file gets read into the
// lexical index, so one huge binary or generated file can't blow up a
// rebuild.
const maxIndexedFileSize = 1 << 20

func readFileLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxIndexedFileSize))
	if err != nil {
		return nil, err
	}
	if strings.IndexByte(string(b), 0) >= 0 {
		return nil, fmt.Errorf("binary file")
	}
	return strings.Split(string(b), "\n"), nil
}
