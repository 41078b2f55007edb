package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "job-1/42/out.nc", Key("job-1", 42, "out.nc"))
}

func TestPutGetRoundTrips(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put("a/1/out.nc", []byte("payload")))

	got, err := store.Get("a/1/out.nc")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestGetMissingKeyErrors(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("missing")
	assert.Error(t, err)
}

func TestDeleteRemovesValue(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put("a/1/out.nc", []byte("payload")))
	require.NoError(t, store.Delete("a/1/out.nc"))

	_, err := store.Get("a/1/out.nc")
	assert.Error(t, err)
}

func TestDeletePrefixRemovesOnlyMatchingKeys(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Put("job-1/1/a.json", []byte("a")))
	require.NoError(t, store.Put("job-1/2/b.json", []byte("b")))
	require.NoError(t, store.Put("job-2/1/c.json", []byte("c")))

	require.NoError(t, store.DeletePrefix("job-1/"))

	_, err := store.Get("job-1/1/a.json")
	assert.Error(t, err)
	_, err = store.Get("job-1/2/b.json")
	assert.Error(t, err)

	got, err := store.Get("job-2/1/c.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}
