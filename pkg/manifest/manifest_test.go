package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chunkcast/pkg/hasher"
	"chunkcast/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(chunks int) *Manifest {
	m := &Manifest{
		Filename:       "Agora.jpeg",
		FileSize:       int64(chunks) * 1000,
		NumberOfChunks: chunks,
		FullFileHash:   hasher.Sum([]byte("whole file")),
	}
	for i := 0; i < chunks; i++ {
		m.ChunkHashes = append(m.ChunkHashes, hasher.Sum([]byte{byte(i)}))
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	for _, n := range []int{1, 3, 100} {
		m := testManifest(n)

		data, err := Encode(m)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, m, decoded)
		assert.Empty(t, decoded.Missing())
		assert.NoError(t, decoded.Validate())
	}
}

func TestEncodeFieldNames(t *testing.T) {
	data, err := Encode(testManifest(1))
	require.NoError(t, err)

	for _, field := range []string{`"filename"`, `"fileSize"`, `"numberOfChunks"`, `"chunk_hashes"`, `"fullFileHash"`} {
		assert.Contains(t, string(data), field)
	}
}

func TestIndentedFormDecodes(t *testing.T) {
	m := testManifest(2)
	data, err := EncodeIndent(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestDecodeMissingFields(t *testing.T) {
	decoded, err := Decode([]byte(`{"filename":"a.jpeg","fullFileHash":"abc"}`))
	require.NoError(t, err)

	assert.Equal(t, "a.jpeg", decoded.Filename)
	assert.ElementsMatch(t, []string{FieldFileSize, FieldNumberOfChunks, FieldChunkHashes}, decoded.Missing())
	assert.False(t, decoded.Has(FieldFileSize))
	assert.True(t, decoded.Has(FieldFullFileHash))
	assert.ErrorIs(t, decoded.Validate(), ErrInvalid)
}

func TestDecodeFloatingPointSizes(t *testing.T) {
	decoded, err := Decode([]byte(`{"fileSize":1.2e6,"numberOfChunks":3.0}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1200000), decoded.FileSize)
	assert.Equal(t, 3, decoded.NumberOfChunks)

	_, err = Decode([]byte(`{"fileSize":1.5}`))
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Whitespace", "  \n"},
		{"Truncated", `{"filename":"a.jpeg","chunk_hashes":["ab`},
		{"NotObject", `[1,2,3]`},
		{"WrongType", `{"filename":42}`},
		{"TrailingGarbage", `{"filename":"a.jpeg"}garbage`},
		{"TwoDocuments", `{"filename":"a.jpeg"}{"filename":"b.jpeg"}`},
		{"TrailingBrace", `{"filename":"a.jpeg"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			var parseErr *ParseError
			require.Error(t, err)
			assert.True(t, errors.As(err, &parseErr), "expected ParseError, got %T", err)
		})
	}
}

func TestDecodeAllowsTrailingPadding(t *testing.T) {
	m, err := Decode([]byte("{\"filename\":\"a.jpeg\"}\n\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, "a.jpeg", m.Filename)
}

func TestValidate(t *testing.T) {
	t.Run("CountMismatch", func(t *testing.T) {
		m := testManifest(2)
		m.NumberOfChunks = 3
		assert.ErrorIs(t, m.Validate(), ErrInvalid)
	})

	t.Run("BadFingerprint", func(t *testing.T) {
		m := testManifest(1)
		m.ChunkHashes[0] = types.Fingerprint("XYZ")
		assert.ErrorIs(t, m.Validate(), ErrInvalid)
	})

	t.Run("EmptyFile", func(t *testing.T) {
		m := testManifest(0)
		assert.ErrorIs(t, m.Validate(), ErrInvalid)
	})
}

func TestStoreSaveLoad(t *testing.T) {
	store, err := NewStore(t.TempDir() + "/DATA")
	require.NoError(t, err)

	m := testManifest(3)
	path, err := store.Save(m)
	require.NoError(t, err)
	assert.Equal(t, store.Path("Agora.jpeg"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n\t\"chunk_hashes\"")

	loaded, err := store.Load("Agora.jpeg")
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	_, err = store.Save(&Manifest{})
	assert.Error(t, err)
}

func TestStorePathStaysInDirectory(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, store.Dir(), filepath.Dir(store.Path("../../etc/passwd")))
}
