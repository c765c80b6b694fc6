package contextpack

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMemory struct{ anchors []MemoryAnchor }

func (m fakeMemory) ActiveAnchors(ctx context.Context, workID string, lexemes []string) ([]MemoryAnchor, error) {
	return m.anchors, nil
}

type fakeIndex struct {
	lex  []IndexHit
	syms []IndexHit
}

func (i fakeIndex) Lexical(ctx context.Context, lexemes []string) ([]IndexHit, error) { return i.lex, nil }
func (i fakeIndex) Symbols(ctx context.Context, lexemes []string) ([]IndexHit, error)  { return i.syms, nil }

func TestBuildProducesReadyPack(t *testing.T) {
	b := &Builder{
		Memory: fakeMemory{},
		Index: fakeIndex{
			lex:  []IndexHit{{Path: "internal/foo/handler.go", Score: 2}},
			syms: []IndexHit{{Path: "internal/foo/handler.go", Symbol: "HandleFoo", Score: 3}},
		},
	}

	pack, insuff, err := b.Build(context.Background(), Input{
		WorkID:                 "w1",
		PackRef:                "pack-1",
		Prompt:                 "fix the handler error",
		ValidationPlanDeclared: true,
	})
	require.NoError(t, err)
	require.Nil(t, insuff)
	require.True(t, pack.Contains("internal/foo/handler.go"))
	require.True(t, pack.Signature.DebugSymptom)
}

func TestBuildReturnsInsufficiencyWithoutAnchors(t *testing.T) {
	b := &Builder{}
	pack, insuff, err := b.Build(context.Background(), Input{
		WorkID:                 "w1",
		PackRef:                "pack-1",
		Prompt:                 "do something",
		ValidationPlanDeclared: false,
	})
	require.NoError(t, err)
	require.NotNil(t, pack)
	require.NotNil(t, insuff)
	require.Contains(t, insuff.Codes, CodeMissingAnchors)
	require.Contains(t, insuff.Codes, CodeValidationPlanAbsent)
	require.Equal(t, "PLANNING", insuff.NextRequiredState)
}

func TestBuildRequiresProofChainWhenGridSignalSet(t *testing.T) {
	b := &Builder{
		Index: fakeIndex{
			lex:  []IndexHit{{Path: "ui/table.tsx", Score: 1}},
			syms: []IndexHit{{Path: "ui/table.tsx", Symbol: "ColumnDef", Score: 1}},
		},
	}
	pack, insuff, err := b.Build(context.Background(), Input{
		WorkID:                 "w1",
		PackRef:                "pack-1",
		Prompt:                 "update the grid column definition",
		ValidationPlanDeclared: true,
	})
	require.NoError(t, err)
	require.True(t, pack.Signature.UIGrid)
	require.NotNil(t, insuff)
	require.Contains(t, insuff.Codes, CodeProofChainMissing)
}

func TestEnrichNeverShrinksAllowList(t *testing.T) {
	b := &Builder{}
	pack, _, err := b.Build(context.Background(), Input{WorkID: "w1", PackRef: "p1", Prompt: "x", ValidationPlanDeclared: true})
	require.NoError(t, err)

	delta, err := b.Enrich(pack, "need more context", []RequestedEvidence{
		{Kind: "file", Ref: "internal/bar/extra.go"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"internal/bar/extra.go"}, delta.AddedFiles)
	require.True(t, pack.Contains("internal/bar/extra.go"))
	require.NotEqual(t, delta.PreviousHash, delta.NewHash)

	before := len(pack.AllowList)
	_, err = b.Enrich(pack, "need more context", []RequestedEvidence{
		{Kind: "file", Ref: "internal/bar/extra.go"},
	})
	require.NoError(t, err)
	require.Equal(t, before, len(pack.AllowList))
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := &Builder{
		Index: fakeIndex{lex: []IndexHit{{Path: "a.go", Score: 1}}},
	}
	pack, _, err := b.Build(context.Background(), Input{WorkID: "w2", PackRef: "p2", Prompt: "x", ValidationPlanDeclared: true})
	require.NoError(t, err)

	require.NoError(t, Write(dir, pack))
	_, err = os.Stat(Path(dir, "w2"))
	require.NoError(t, err)

	loaded, err := Read(dir, "w2")
	require.NoError(t, err)
	require.Equal(t, pack.ContentHash, loaded.ContentHash)
	require.True(t, loaded.Sealed())
	require.True(t, loaded.Contains("a.go"))
}
