package storage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSolidPNG(t *testing.T, c color.RGBA, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPlaceholderSolidColor(t *testing.T) {
	data := encodeSolidPNG(t, color.RGBA{R: 0xff, A: 0xff}, 64, 64)
	assert.Equal(t, "#ff0000", Placeholder(data))

	data = encodeSolidPNG(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, 8, 8)
	assert.Equal(t, "#102030", Placeholder(data))
}

func TestPlaceholderUndecodableData(t *testing.T) {
	assert.Equal(t, "", Placeholder([]byte("not an image")))
	assert.Equal(t, "", Placeholder(nil))
}
