package avatar

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate("did:key:z6MkAlice", 64)
	require.NoError(t, err)
	b, err := Generate("did:key:z6MkAlice", 64)
	require.NoError(t, err)
	c, err := Generate("did:key:z6MkBob", 64)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateProducesPNGWithTrailer(t *testing.T) {
	data, err := Generate("did:key:z6MkAlice", 50)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(data, Trailer))

	img, err := png.Decode(bytes.NewReader(Strip(data)))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestGenerateIsMirrored(t *testing.T) {
	data, err := Generate("did:key:z6MkMirror", Grid*10)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(Strip(data)))
	require.NoError(t, err)

	for y := 0; y < Grid; y++ {
		for x := 0; x < Grid/2; x++ {
			left := img.At(x*10+5, y*10+5)
			right := img.At((Grid-1-x)*10+5, y*10+5)
			assert.Equal(t, left, right, "cell (%d,%d)", x, y)
		}
	}
}

func TestGenerateRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, MinSize - 1, MaxSize + 1} {
		_, err := Generate("seed", size)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
}

func TestStrip(t *testing.T) {
	assert.Equal(t, []byte("png"), Strip([]byte("png\x0b\x00\x17")))
	assert.Equal(t, []byte("plain"), Strip([]byte("plain")))
}
