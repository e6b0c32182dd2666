package mask

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeMask(t *testing.T, w, h int, rects ...image.Rectangle) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for _, r := range rects {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLargestPicksBiggestRegion(t *testing.T) {
	data := encodeMask(t, 200, 100,
		image.Rect(10, 10, 30, 30),
		image.Rect(100, 20, 180, 80),
	)

	region, err := Largest(data, 0)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, region.BBox.X, 0.01)
	assert.InDelta(t, 0.2, region.BBox.Y, 0.02)
	assert.InDelta(t, 0.4, region.BBox.Width, 0.02)
	assert.InDelta(t, 0.6, region.BBox.Height, 0.03)
	assert.Len(t, region.Polygon, 4, "a rectangle simplifies to four vertices")
	assert.InDelta(t, 0.24, region.Area, 0.02)
}

func TestLargestEmptyMask(t *testing.T) {
	_, err := Largest(encodeMask(t, 50, 50), 0)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestLargestRejectsGarbage(t *testing.T) {
	_, err := Largest([]byte("not an image"), 0)
	assert.Error(t, err)
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte{1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeBase64("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeBase64("!!!")
	assert.Error(t, err)
}
