package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chunkcast/pkg/hasher"
	"chunkcast/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentStorePutIsIdempotent(t *testing.T) {
	store, err := NewContentStore(t.TempDir(), CompressionNone)
	require.NoError(t, err)

	data := []byte("chunk payload")
	fp := hasher.Sum(data)

	require.NoError(t, store.Put(fp, data))
	info, err := os.Stat(filepath.Join(store.Dir(), string(fp)))
	require.NoError(t, err)

	require.NoError(t, store.Put(fp, data))
	again, err := os.Stat(filepath.Join(store.Dir(), string(fp)))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "second put should not rewrite the file")

	raw, err := os.ReadFile(filepath.Join(store.Dir(), string(fp)))
	require.NoError(t, err)
	assert.Equal(t, data, raw, "uncompressed chunks are stored verbatim")

	assert.True(t, store.Has(fp))
	listed, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []types.Fingerprint{fp}, listed)
}

func TestContentStoreRejectsMismatch(t *testing.T) {
	store, err := NewContentStore(t.TempDir(), CompressionNone)
	require.NoError(t, err)

	t.Run("WrongFingerprint", func(t *testing.T) {
		err := store.Put(hasher.Sum([]byte("a")), []byte("b"))
		var mismatch *FingerprintMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.False(t, mismatch.Stored)
		assert.Equal(t, hasher.Sum([]byte("b")), mismatch.Actual)
	})

	t.Run("ExistingDifferentContent", func(t *testing.T) {
		data := []byte("original")
		fp := hasher.Sum(data)
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), string(fp)), []byte("collision"), 0644))

		err := store.Put(fp, data)
		var mismatch *FingerprintMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.True(t, mismatch.Stored)

		raw, err := os.ReadFile(filepath.Join(store.Dir(), string(fp)))
		require.NoError(t, err)
		assert.Equal(t, []byte("collision"), raw, "existing content must not be overwritten")
	})

	t.Run("ExistingSameSizeDifferentContent", func(t *testing.T) {
		data := []byte("abcdef")
		fp := hasher.Sum(data)
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), string(fp)), []byte("fedcba"), 0644))

		err := store.Put(fp, data)
		var mismatch *FingerprintMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.True(t, mismatch.Stored)
	})

	t.Run("InvalidFingerprint", func(t *testing.T) {
		assert.Error(t, store.Put("../escape", []byte("x")))
	})
}

func TestContentStoreSizeCheckSkipsRead(t *testing.T) {
	store, err := NewContentStore(t.TempDir(), CompressionNone)
	require.NoError(t, err)

	data := []byte("payload")
	fp := hasher.Sum(data)

	// nothing is stored under fp, so any read would fail
	same, err := store.sameContent(fp, int64(len(data))+1, data)
	require.NoError(t, err)
	assert.False(t, same)

	_, err = store.sameContent(fp, int64(len(data)), data)
	assert.Error(t, err)
}

func TestContentStorePutAcrossCompressionSettings(t *testing.T) {
	dir := t.TempDir()
	compressible := bytes.Repeat([]byte("chunkcast "), 4096)
	fp := hasher.Sum(compressible)

	zstdStore, err := NewContentStore(dir, CompressionZstd)
	require.NoError(t, err)
	require.NoError(t, zstdStore.Put(fp, compressible))

	plainStore, err := NewContentStore(dir, CompressionNone)
	require.NoError(t, err)
	assert.NoError(t, plainStore.Put(fp, compressible), "compressed copy on disk matches the chunk")

	got, err := plainStore.Get(fp)
	require.NoError(t, err)
	assert.Equal(t, compressible, got)
}

func TestContentStoreCompression(t *testing.T) {
	compressible := bytes.Repeat([]byte("chunkcast "), 4096)

	for _, c := range []Compression{CompressionZstd, CompressionGzip} {
		t.Run(string(c), func(t *testing.T) {
			store, err := NewContentStore(t.TempDir(), c)
			require.NoError(t, err)

			fp := hasher.Sum(compressible)
			require.NoError(t, store.Put(fp, compressible))

			raw, err := os.ReadFile(filepath.Join(store.Dir(), string(fp)))
			require.NoError(t, err)
			assert.Less(t, len(raw), len(compressible))

			got, err := store.Get(fp)
			require.NoError(t, err)
			assert.Equal(t, compressible, got)

			// Putting again compares against the decompressed content.
			require.NoError(t, store.Put(fp, compressible))

			small := []byte("x")
			require.NoError(t, store.Put(hasher.Sum(small), small))
			got, err = store.Get(hasher.Sum(small))
			require.NoError(t, err)
			assert.Equal(t, small, got)
		})
	}
}

func TestContentStoreReadsMixedDirectories(t *testing.T) {
	dir := t.TempDir()
	plain, err := NewContentStore(dir, CompressionNone)
	require.NoError(t, err)
	zstd, err := NewContentStore(dir, CompressionZstd)
	require.NoError(t, err)

	a := bytes.Repeat([]byte("a"), 10000)
	b := bytes.Repeat([]byte("b"), 10000)
	require.NoError(t, plain.Put(hasher.Sum(a), a))
	require.NoError(t, zstd.Put(hasher.Sum(b), b))

	got, err := zstd.Get(hasher.Sum(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
	got, err = plain.Get(hasher.Sum(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestContentStoreChunkThatLooksCompressed(t *testing.T) {
	store, err := NewContentStore(t.TempDir(), CompressionNone)
	require.NoError(t, err)

	data := append([]byte("CCZ1"), []byte("not really zstd")...)
	require.NoError(t, store.Put(hasher.Sum(data), data))

	got, err := store.Get(hasher.Sum(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "none", "gzip", "zstd"} {
		_, err := ParseCompression(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)

	_, err = NewContentStore(t.TempDir(), Compression("lzma"))
	assert.Error(t, err)
}
