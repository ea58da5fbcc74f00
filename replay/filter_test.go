package replay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T) Params {
	return Params{
		Capacity:          8,
		FalsePositiveRate: 1e-5,
		PersistPath:       filepath.Join(t.TempDir(), "tags.log"),
	}
}

func TestCheckAndSetDetectsReplay(t *testing.T) {
	f, err := New(testParams(t))
	require.NoError(t, err)
	defer f.Close()

	var tag Tag
	tag[0] = 1

	result, err := f.CheckAndSet(tag)
	require.NoError(t, err)
	require.Equal(t, Fresh, result)

	result, err = f.CheckAndSet(tag)
	require.NoError(t, err)
	require.Equal(t, Replay, result)
}

func TestCheckAndSetDistinctTagsAreFresh(t *testing.T) {
	f, err := New(testParams(t))
	require.NoError(t, err)
	defer f.Close()

	for i := byte(0); i < 4; i++ {
		var tag Tag
		tag[0] = i

		result, err := f.CheckAndSet(tag)
		require.NoError(t, err)
		require.Equal(t, Fresh, result)
	}
}

func TestRotationMovesActiveToGrace(t *testing.T) {
	params := testParams(t)
	f, err := New(params)
	require.NoError(t, err)
	defer f.Close()

	for i := byte(0); i < byte(params.Capacity); i++ {
		var tag Tag
		tag[0] = i

		_, err := f.CheckAndSet(tag)
		require.NoError(t, err)
	}

	require.NotNil(t, f.previous)
	require.Equal(t, uint64(0), f.active.inserted)

	var firstTag Tag
	result, err := f.CheckAndSet(firstTag)
	require.NoError(t, err)
	require.Equal(t, Replay, result, "tag from the retired generation must still be caught during grace period")
}

func TestDropGraceRemovesPersistedFile(t *testing.T) {
	params := testParams(t)
	f, err := New(params)
	require.NoError(t, err)
	defer f.Close()

	for i := byte(0); i < byte(params.Capacity); i++ {
		var tag Tag
		tag[0] = i
		_, err := f.CheckAndSet(tag)
		require.NoError(t, err)
	}
	require.NotNil(t, f.previous)

	require.NoError(t, f.DropGrace())
	require.Nil(t, f.previous)
}

func TestReloadSurvivesRestart(t *testing.T) {
	params := testParams(t)
	f, err := New(params)
	require.NoError(t, err)

	var tag Tag
	tag[0] = 0x42

	result, err := f.CheckAndSet(tag)
	require.NoError(t, err)
	require.Equal(t, Fresh, result)
	require.NoError(t, f.Close())

	reopened, err := New(params)
	require.NoError(t, err)
	defer reopened.Close()

	result, err = reopened.CheckAndSet(tag)
	require.NoError(t, err)
	require.Equal(t, Replay, result, "a tag persisted before restart must still be recognized")
}
