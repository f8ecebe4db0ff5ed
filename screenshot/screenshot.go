// Package screenshot turns a rendered preview frame into the PNG data URL answered to the
// host's screenshot request.
package screenshot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

const dataURLPrefix = "data:image/png;base64,"

// Options control the capture. The zero value is not useful; start from DefaultOptions.
type Options struct {
	// Scale multiplies both dimensions of the frame.
	Scale float64
	// Background is painted under transparent pixels.
	Background color.Color
}

func DefaultOptions() Options {
	bg, _ := ParseHexColor("#1a1a2e")
	return Options{Scale: 0.5, Background: bg}
}

// Capture scales img, flattens it onto the background and returns it as a PNG data URL.
func Capture(img image.Image, opts Options) (string, error) {
	if img == nil {
		return "", errors.New("screenshot: no frame")
	}
	raw, err := EncodePNG(img, opts)
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// EncodePNG is Capture without the data URL wrapping.
func EncodePNG(img image.Image, opts Options) ([]byte, error) {
	src := img.Bounds()
	if src.Empty() {
		return nil, errors.New("screenshot: empty frame")
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Background == nil {
		opts.Background = color.Transparent
	}

	w := int(math.Max(1, math.Round(float64(src.Dx())*opts.Scale)))
	h := int(math.Max(1, math.Round(float64(src.Dy())*opts.Scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("screenshot: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDataURL returns the bytes of a base64 data URL. Bare base64 is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, "base64,")
		if i < 0 {
			return nil, errors.New("screenshot: data URL is not base64")
		}
		s = s[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("screenshot: decode: %w", err)
	}
	return raw, nil
}

// ParseHexColor parses #rgb and #rrggbb.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("screenshot: bad color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("screenshot: bad color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
