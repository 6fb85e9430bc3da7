package vectorindex

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cinemate/internal/movie"
)

func TestAddAssignsDenseSlots(t *testing.T) {
	ix := New(3)
	for want := 0; want < 4; want++ {
		slot, err := ix.Add([]float32{float32(want), 0, 0})
		require.NoError(t, err)
		assert.Equal(t, want, slot)
	}
	assert.Equal(t, 4, ix.Len())
}

func TestAddRejectsWrongDimension(t *testing.T) {
	ix := New(3)
	_, err := ix.Add([]float32{1, 2})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, ix.Len())
}

func TestSearchOrdersByDistanceAndCapsAtK(t *testing.T) {
	ix := New(2)
	for _, v := range [][]float32{{10, 10}, {1, 1}, {0, 0}, {5, 5}} {
		_, err := ix.Add(v)
		require.NoError(t, err)
	}

	hits, err := ix.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{hits[0].Slot, hits[1].Slot, hits[2].Slot})
	assert.Equal(t, float32(0), hits[0].Distance)
	assert.Equal(t, float32(2), hits[1].Distance)

	hits, err = ix.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 4)
}

func TestSearchHugeKReturnsWhatExists(t *testing.T) {
	ix := New(2)
	_, err := ix.Add([]float32{1, 1})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{0, 0}, math.MaxInt)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Slot)
}

func TestSearchEmptyIndex(t *testing.T) {
	hits, err := New(4).Search([]float32{1, 2, 3, 4}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSaveLoadRoundTripPreservesSearch(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(7))
	ix := New(8)
	for i := 0; i < 25; i++ {
		slot, err := ix.Add(randomVector(rng, 8))
		require.NoError(t, err)
		require.NoError(t, ix.SetRecord(Record{
			Slot:    slot,
			Title:   "movie",
			Context: movie.NewContext(movie.Record{ID: i, Title: "movie"}, movie.Insufficient(), movie.NewRecommendations()),
		}))
	}
	require.NoError(t, ix.Save(dir))

	restored, err := Load(dir, 8)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), restored.Len())

	for i := 0; i < 5; i++ {
		q := randomVector(rng, 8)
		want, err := ix.Search(q, 5)
		require.NoError(t, err)
		got, err := restored.Search(q, 5)
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for j := range want {
			assert.Equal(t, want[j].Slot, got[j].Slot)
			assert.InDelta(t, want[j].Distance, got[j].Distance, 1e-5)
		}
	}

	rec, ok := restored.Record(3)
	require.True(t, ok)
	assert.Equal(t, 3, rec.Context.MovieDetails.ID)
}

func TestLoadMissingSnapshotIsEmpty(t *testing.T) {
	ix, err := Load(t.TempDir(), 16)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 16, ix.Dim())
}

func TestLoadHalfSnapshotIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	ix := New(2)
	_, err := ix.Add([]float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, ix.Save(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, generationName(1), RecordsFile)))

	_, err = Load(dir, 2)
	require.ErrorIs(t, err, ErrInconsistentSnapshot)
}

func TestLoadMismatchedTopLevelPairIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	one := New(2)
	_, err := one.Add([]float32{1, 2})
	require.NoError(t, err)
	two := New(2)
	for _, v := range [][]float32{{1, 2}, {3, 4}} {
		_, err := two.Add(v)
		require.NoError(t, err)
	}

	vecTmp, err := writeTemp(dir, VectorsFile, two.writeVectors)
	require.NoError(t, err)
	require.NoError(t, os.Rename(vecTmp, filepath.Join(dir, VectorsFile)))
	recTmp, err := writeTemp(dir, RecordsFile, one.writeRecords)
	require.NoError(t, err)
	require.NoError(t, os.Rename(recTmp, filepath.Join(dir, RecordsFile)))

	_, err = Load(dir, 2)
	require.ErrorIs(t, err, ErrInconsistentSnapshot)
}

func TestLoadReadsTopLevelPairWithoutCurrent(t *testing.T) {
	dir := t.TempDir()
	ix := New(2)
	_, err := ix.Add([]float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, ix.writeGeneration(dir, 1))
	for _, name := range []string{VectorsFile, RecordsFile} {
		require.NoError(t, os.Rename(filepath.Join(dir, generationName(1), name), filepath.Join(dir, name)))
	}

	restored, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())

	// The next Save moves the directory onto generations and drops the old pair.
	require.NoError(t, restored.Save(dir))
	_, err = os.Stat(filepath.Join(dir, VectorsFile))
	assert.True(t, os.IsNotExist(err))
	again, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Len())
}

func TestCrashBeforePublishKeepsPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	ix := New(2)
	_, err := ix.Add([]float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, ix.Save(dir))

	_, err = ix.Add([]float32{3, 4})
	require.NoError(t, err)
	// Both files of the next generation land, but CURRENT is never swapped.
	require.NoError(t, ix.writeGeneration(dir, 2))

	restored, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())
}

func TestCrashBetweenFileRenamesKeepsPreviousGeneration(t *testing.T) {
	dir := t.TempDir()
	ix := New(2)
	_, err := ix.Add([]float32{1, 2})
	require.NoError(t, err)
	require.NoError(t, ix.Save(dir))

	_, err = ix.Add([]float32{3, 4})
	require.NoError(t, err)
	require.NoError(t, ix.writeGeneration(dir, 2))
	// Leave generation 2 with new vectors and no records, as if the process
	// died after the first rename.
	require.NoError(t, os.Remove(filepath.Join(dir, generationName(2), RecordsFile)))

	restored, err := Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Len())

	// Saving again reuses the abandoned generation name and publishes it.
	require.NoError(t, ix.Save(dir))
	restored, err = Load(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var gens []string
	for _, e := range entries {
		if _, ok := parseGeneration(e.Name()); ok {
			gens = append(gens, e.Name())
		}
	}
	assert.Equal(t, []string{generationName(2)}, gens)
}

func TestLoadDanglingCurrentIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New(2).Save(dir))
	require.NoError(t, os.RemoveAll(filepath.Join(dir, generationName(1))))

	_, err := Load(dir, 2)
	require.ErrorIs(t, err, ErrInconsistentSnapshot)
}

func TestLoadWrongDimensionIsInconsistent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, New(4).Save(dir))
	_, err := Load(dir, 8)
	require.ErrorIs(t, err, ErrInconsistentSnapshot)
}

func TestTruncateUndoesAdd(t *testing.T) {
	ix := New(2)
	_, err := ix.Add([]float32{1, 1})
	require.NoError(t, err)
	slot, err := ix.Add([]float32{2, 2})
	require.NoError(t, err)
	require.NoError(t, ix.SetRecord(Record{Slot: slot, Title: "x"}))

	ix.Truncate(slot)
	assert.Equal(t, 1, ix.Len())
	_, ok := ix.Record(slot)
	assert.False(t, ok)

	next, err := ix.Add([]float32{3, 3})
	require.NoError(t, err)
	assert.Equal(t, slot, next)
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}
