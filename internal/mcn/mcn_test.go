package mcn

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "mcn.snapshot"), 1<<20, logging.Default())
}

func TestFixDim(t *testing.T) {
	short := FixDim([]float64{1, 2, 3})
	require.Len(t, short, Dim)
	assert.Equal(t, 1.0, short[0])
	assert.Equal(t, 0.0, short[3])

	long := make([]float64, Dim+10)
	for i := range long {
		long[i] = float64(i)
	}
	fixed := FixDim(long)
	require.Len(t, fixed, Dim)
	assert.Equal(t, float64(Dim-1), fixed[Dim-1])

	dirty := FixDim([]float64{math.NaN(), math.Inf(1), 5})
	assert.Equal(t, 0.0, dirty[0])
	assert.Equal(t, 0.0, dirty[1])
	assert.Equal(t, 5.0, dirty[2])
}

func TestSearchReturnsNearest(t *testing.T) {
	s := newStore(t)
	s.Add([][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0.9, 0.1, 0},
	}, []map[string]string{
		{"regime": "momentum"},
		{"regime": "risk_off"},
		{"regime": "momentum"},
	})

	metas, scores := s.Search([]float64{1, 0, 0}, 2)
	require.Len(t, metas, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, "momentum", metas[0]["regime"])
	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.GreaterOrEqual(t, scores[0], scores[1])
}

func TestSearchNeverCrashesOnArbitraryShapes(t *testing.T) {
	s := newStore(t)
	s.Add([][]float64{{1, 2, 3}}, []map[string]string{{"k": "v"}})

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 50; i++ {
		n := rng.Intn(100)
		q := make([]float64, n)
		for j := range q {
			q[j] = rng.NormFloat64()
		}
		metas, scores := s.Search(q, 5)
		assert.Equal(t, len(metas), len(scores))
	}
}

func TestSearchEmptyCases(t *testing.T) {
	s := newStore(t)

	metas, scores := s.Search([]float64{1, 2}, 3)
	assert.Empty(t, metas)
	assert.Empty(t, scores)

	s.Add([][]float64{{1, 2}}, []map[string]string{{}})

	metas, scores = s.Search(nil, 3)
	assert.Empty(t, metas)
	assert.Empty(t, scores)

	metas, scores = s.Search([]float64{1, 2}, 0)
	assert.Empty(t, metas)
	assert.Empty(t, scores)

	// Zero-magnitude query cannot be ranked
	metas, scores = s.Search(make([]float64, Dim), 3)
	assert.Empty(t, metas)
	assert.Empty(t, scores)
}

func TestSaveAndLoadState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcn.snapshot")
	s := New(path, 1<<20, logging.Default())
	s.Add([][]float64{{1, 0}, {0, 1}}, []map[string]string{
		{"regime": "neutral"},
		{"regime": "volatility"},
	})
	require.NoError(t, s.SaveState())

	restored := New(path, 1<<20, logging.Default())
	restored.LoadState()
	assert.Equal(t, 2, restored.Len())

	metas, _ := restored.Search([]float64{0, 1}, 1)
	require.Len(t, metas, 1)
	assert.Equal(t, "volatility", metas[0]["regime"])
}

func TestLoadStateToleratesMissingAndCorrupt(t *testing.T) {
	s := newStore(t)
	s.LoadState()
	assert.Zero(t, s.Len())
}

func TestSnapshotEvictsOldestUnderBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcn.snapshot")
	s := New(path, 4096, logging.Default())

	vectors := make([][]float64, 200)
	metas := make([]map[string]string, 200)
	for i := range vectors {
		v := make([]float64, Dim)
		for j := range v {
			v[j] = float64(i + j)
		}
		vectors[i] = v
		metas[i] = map[string]string{"i": "x"}
	}
	s.Add(vectors, metas)

	require.NoError(t, s.SaveState())
	assert.Less(t, s.Len(), 200)
	assert.Greater(t, s.Len(), 0)
}

func TestAddMismatchedLengthsUsesOverlap(t *testing.T) {
	s := newStore(t)
	s.Add([][]float64{{1}, {2}, {3}}, []map[string]string{{"only": "one"}})
	assert.Equal(t, 1, s.Len())
}
