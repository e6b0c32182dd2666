package colorutil

import (
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHex(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0xe6, G: 0x19, B: 0x4b, A: 255}, ParseHex("#e6194b"))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x00, B: 0xff, A: 255}, ParseHex("#f0f"))
	assert.Equal(t, Magenta, ParseHex("nope"))
}

func TestToHexRoundTrip(t *testing.T) {
	assert.Equal(t, "#4363d8", ToHex(ParseHex("#4363d8")))
}

func TestForLabelIsStable(t *testing.T) {
	assert.Equal(t, ForLabel("Car"), ForLabel("car"))
	assert.Contains(t, Palette, ForLabel("person"))
	assert.Equal(t, "", ForLabel(""))
}

func TestRandomIsHex(t *testing.T) {
	c := Random(rand.New(rand.NewSource(1)))
	assert.Len(t, c, 7)
	assert.Equal(t, byte('#'), c[0])
}

func TestHSVToRGB(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, A: 255}, HSVToRGB(0, 1, 1))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, HSVToRGB(120, 1, 1))
}
