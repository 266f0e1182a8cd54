package avatar

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	// Grid is the number of cells per side.
	Grid = 5
	// MinSize and MaxSize bound the rendered edge in pixels.
	MinSize = Grid
	MaxSize = 4096
)

// Trailer is appended after the PNG data.
var Trailer = []byte{0x0B, 0x00, 0x17}

// ErrInvalidSize indicates a size outside [MinSize, MaxSize].
var ErrInvalidSize = errors.New("invalid avatar size")

var background = color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}

// Generate renders the identicon for seed (normally a DID) with the given
// edge length. Equal inputs always produce equal output.
func Generate(seed string, size int) ([]byte, error) {
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	sum := sha256.Sum256([]byte(seed))
	fg := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}

	cells := image.NewNRGBA(image.Rect(0, 0, Grid, Grid))
	for y := 0; y < Grid; y++ {
		for x := 0; x < (Grid+1)/2; x++ {
			c := background
			if sum[3+y*3+x]&1 == 1 {
				c = fg
			}
			cells.SetNRGBA(x, y, c)
			cells.SetNRGBA(Grid-1-x, y, c)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(out, out.Bounds(), cells, cells.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	buf.Write(Trailer)
	return buf.Bytes(), nil
}

// Strip returns the PNG portion of a generated picture, or data unchanged
// when it does not carry the trailer.
func Strip(data []byte) []byte {
	if bytes.HasSuffix(data, Trailer) {
		return data[:len(data)-len(Trailer)]
	}
	return data
}
