package submissions

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Output formats.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

const (
	DefaultMaxWidth = 1920
	jpegQuality     = 85
)

// Encoded is an image ready for upload.
type Encoded struct {
	Data        []byte
	ContentType string
	Ext         string
}

// Optimizer bounds image width and re-encodes to one format.
type Optimizer struct {
	MaxWidth int
	Format   string
}

// Optimize decodes img, scales it down to MaxWidth keeping the aspect ratio,
// and encodes it as Format.
func (o Optimizer) Optimize(img Image) (Encoded, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return Encoded{}, fmt.Errorf("decode image: %w", err)
	}

	maxWidth := o.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	out := src
	if b := src.Bounds(); b.Dx() > maxWidth {
		height := b.Dy() * maxWidth / b.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if o.Format == FormatJPEG {
		if err := jpeg.Encode(&buf, flatten(out), &jpeg.Options{Quality: jpegQuality}); err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
		}
		return Encoded{Data: buf.Bytes(), ContentType: "image/jpeg", Ext: "jpg"}, nil
	}

	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, out); err != nil {
		return Encoded{}, fmt.Errorf("encode png: %w", err)
	}
	return Encoded{Data: buf.Bytes(), ContentType: "image/png", Ext: "png"}, nil
}

// flatten composites img over white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}
