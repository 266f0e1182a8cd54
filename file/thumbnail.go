package file

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/opd-ai/accountd/backend"
	"golang.org/x/image/draw"
)

// fit returns the largest size within bounds that keeps the aspect ratio of
// src. Images already within bounds keep their size.
func fit(src image.Rectangle, bounds backend.Size) image.Rectangle {
	w, h := src.Dx(), src.Dy()
	if w <= bounds.Width && h <= bounds.Height {
		return image.Rect(0, 0, w, h)
	}
	if w*bounds.Height > h*bounds.Width {
		h = max(1, h*bounds.Width/w)
		w = bounds.Width
	} else {
		w = max(1, w*bounds.Height/h)
		h = bounds.Height
	}
	return image.Rect(0, 0, w, h)
}

// thumbnail decodes an image and renders a PNG thumbnail within bounds. It
// returns nil for data that is not a decodable image.
func thumbnail(r io.Reader, bounds backend.Size) []byte {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return nil
	}
	src, _, err := image.Decode(r)
	if err != nil {
		return nil
	}

	dst := image.NewNRGBA(fit(src.Bounds(), bounds))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil
	}
	return buf.Bytes()
}
