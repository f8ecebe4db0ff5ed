package screenshot

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureScalesAndFlattens(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 64, 32)) // fully transparent

	url, err := Capture(frame, DefaultOptions())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := DecodeDataURL(url)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
	r, g, b, a := img.At(8, 8).RGBA()
	assert.Equal(t, uint32(0x1a), r>>8)
	assert.Equal(t, uint32(0x1a), g>>8)
	assert.Equal(t, uint32(0x2e), b>>8)
	assert.Equal(t, uint32(0xff), a>>8)
}

func TestCaptureKeepsOpaquePixels(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			frame.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	raw, err := EncodePNG(frame, Options{Scale: 1})
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	r, _, _, _ := img.At(5, 5).RGBA()
	assert.Equal(t, uint32(200), r>>8)
}

func TestCaptureTinyFrame(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 1, 1))
	raw, err := EncodePNG(frame, DefaultOptions())
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1, 1), img.Bounds())
}

func TestCaptureRejectsEmpty(t *testing.T) {
	_, err := Capture(nil, DefaultOptions())
	assert.Error(t, err)
	_, err = Capture(image.NewRGBA(image.Rect(0, 0, 0, 0)), DefaultOptions())
	assert.Error(t, err)
}

func TestDecodeDataURL(t *testing.T) {
	raw, err := DecodeDataURL("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	raw, err = DecodeDataURL("aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	_, err = DecodeDataURL("data:text/plain,hello")
	assert.Error(t, err)
	_, err = DecodeDataURL("!!!")
	assert.Error(t, err)
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#1a1a2e")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x1a, G: 0x1a, B: 0x2e, A: 0xff}, c)

	c, err = ParseHexColor("fff")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, c)

	_, err = ParseHexColor("#12")
	assert.Error(t, err)
	_, err = ParseHexColor("#zzzzzz")
	assert.Error(t, err)
}
