// Package providertest holds helpers shared by adapter, engine and api tests.
package providertest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// PNG returns a w x h solid PNG.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG returns a w x h solid JPEG.
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 0x46, G: 0x46, B: 0x46, A: 0xff})
		}
	}
	return img
}
