package rerank

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

func TestRerankOrdersByLaneThenScore(t *testing.T) {
	r := NewGlossaryReranker()
	hits := []contextpack.RetrievalHit{
		{Lane: contextpack.LaneEpisodic, Path: "mem-1", Score: 1},
		{Lane: contextpack.LaneSymbol, Path: "b.go", Score: 1},
		{Lane: contextpack.LaneLexical, Path: "a.go", Score: 5},
	}
	out := r.Rerank(hits)
	require.Equal(t, "b.go", out[0].Path) // symbol lane first regardless of score
	require.Equal(t, "a.go", out[1].Path)
	require.Equal(t, "mem-1", out[2].Path)
}

func TestRerankAppliesGlossaryBonus(t *testing.T) {
	r := NewGlossaryReranker()
	hits := []contextpack.RetrievalHit{
		{Lane: contextpack.LaneLexical, Path: "internal/cfg/loader.go", Score: 1},
		{Lane: contextpack.LaneLexical, Path: "internal/widgets/render.go", Score: 1},
	}
	out := r.Rerank(hits)
	require.Equal(t, "internal/cfg/loader.go", out[0].Path, "cfg synonym for config should score higher")
}

func TestRerankIsStableForEqualScores(t *testing.T) {
	r := NewGlossaryReranker()
	hits := []contextpack.RetrievalHit{
		{Lane: contextpack.LaneLexical, Path: "b.go", Score: 1},
		{Lane: contextpack.LaneLexical, Path: "a.go", Score: 1},
	}
	out := r.Rerank(hits)
	require.Equal(t, "a.go", out[0].Path)
	require.Equal(t, "b.go", out[1].Path)
}
