//go:build test

package donation

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodec_Levels(t *testing.T) {
	data := bytes.Repeat([]byte(`{"role":"user","content":"tell me about kiwis"}`), 50)

	for _, level := range []CompressionLevel{
		CompressionLevelFastest,
		CompressionLevelDefault,
		CompressionLevelBetter,
		CompressionLevelBest,
		"",
	} {
		t.Run(string(level), func(t *testing.T) {
			codec, err := NewCodec(level)
			require.NoError(t, err)
			defer codec.Close()

			compressed := codec.Compress(data)
			require.True(t, IsCompressed(compressed))
			require.Less(t, len(compressed), len(data))

			out, err := codec.Decompress(compressed)
			require.NoError(t, err)
			require.Equal(t, data, out)
		})
	}
}

func TestCodec_SmallAndDisabled(t *testing.T) {
	codec, err := NewCodec(CompressionLevelDefault)
	require.NoError(t, err)
	defer codec.Close()

	small := []byte(`{"a":1}`)
	require.Equal(t, small, codec.Compress(small))

	none, err := NewCodec(CompressionLevelNone)
	require.NoError(t, err)
	defer none.Close()

	data := bytes.Repeat([]byte("x"), 500)
	require.Equal(t, data, none.Compress(data))

	// Plain payloads pass through Decompress.
	out, err := codec.Decompress(data)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestCodec_UnknownLevel(t *testing.T) {
	_, err := NewCodec("ultra")
	require.ErrorContains(t, err, "unknown compression level")
}
