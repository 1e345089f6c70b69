package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
)

// toImage converts an interleaved RGB buffer in [0, 1] to an 8-bit image.
func toImage(rgb []float64, w, h int) (*image.RGBA, error) {
	if len(rgb) != 3*w*h {
		return nil, fmt.Errorf("got %d values for a %dx%d image", len(rgb), w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * (y*w + x)
			img.SetRGBA(x, y, color.RGBA{R: quantize(rgb[i]), G: quantize(rgb[i+1]), B: quantize(rgb[i+2]), A: 255})
		}
	}
	return img, nil
}

// depthImage maps normalised depth to grey, near is bright.
func depthImage(depth []float64, w, h int) (*image.Gray, error) {
	if len(depth) != w*h {
		return nil, fmt.Errorf("got %d depths for a %dx%d image", len(depth), w, h)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, d := range depth {
		v := uint8(0)
		if d > 0 {
			v = quantize(1 - d)
		}
		img.SetGray(i%w, i/w, color.Gray{Y: v})
	}
	return img, nil
}

func quantize(v float64) uint8 {
	return uint8(math.Round(255 * math.Min(math.Max(v, 0), 1)))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
