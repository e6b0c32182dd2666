package image

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	data := encodePNG(t, 40, 20)

	img, err := Decode(data, "image/png")
	require.NoError(t, err)
	w, h := Size(img)
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, h)

	// A wrong content type still decodes through the registered decoders.
	img, err = Decode(data, "image/webp")
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image"), "application/octet-stream")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode(nil, "image/png")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFit(t *testing.T) {
	img, err := Decode(encodePNG(t, 400, 100), "image/png")
	require.NoError(t, err)

	fitted := Fit(img, 200)
	w, h := Size(fitted)
	assert.Equal(t, 200, w)
	assert.Equal(t, 50, h)

	assert.Same(t, img, Fit(img, 0))
	assert.Same(t, img, Fit(img, 1000))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, encodePNG(t, 8, 6), 0o644))

	img, err := Load(path)
	require.NoError(t, err)
	w, h := Size(img)
	assert.Equal(t, 8, w)
	assert.Equal(t, 6, h)

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
