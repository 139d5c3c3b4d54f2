package utils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
)

// GetEmptyTile returns a blank image of the given size. PNG tiles are
// transparent, JPEG tiles are white.
func GetEmptyTile(format string, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", width, height)
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	buf := new(bytes.Buffer)
	switch format {
	case "image/png":
		if err := png.Encode(buf, canvas); err != nil {
			return nil, err
		}
	case "image/jpeg":
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
		if err := jpeg.Encode(buf, canvas, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("no empty tile for format '%s'", format)
	}
	return buf.Bytes(), nil
}
