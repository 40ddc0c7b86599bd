package storage

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"
)

// Placeholder computes the average color of an encoded image as a CSS hex
// color. Clients paint it while the real asset loads. Undecodable payloads
// yield an empty string rather than an error.
func Placeholder(data []byte) string {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ""
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return ""
	}

	// Sample a coarse grid instead of every pixel; the result is a single
	// color, so precision does not matter.
	const grid = 16
	stepX := max(bounds.Dx()/grid, 1)
	stepY := max(bounds.Dy()/grid, 1)

	var r, g, b, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("#%02x%02x%02x", r/n, g/n, b/n)
}
