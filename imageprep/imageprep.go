// Package imageprep normalises fetched source photos into the raster format
// the AI providers accept: PNG with full colour and alpha channels.
package imageprep

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"

	"github.com/disintegration/gift"
	"github.com/krishkalaria12/snap-edit/metrics"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ModeRGBA        = "rgba"
	ModePassthrough = "passthrough"

	DefaultMaxDimension = 4000
	OutputMIMEType      = "image/png"
)

type Source struct {
	Data        []byte
	ContentType string
}

type Prepared struct {
	Data     []byte
	MIMEType string
	// Normalized is false when the bytes were forwarded untouched.
	Normalized bool
}

type Preparer interface {
	Prepare(ctx context.Context, src Source) (Prepared, error)
}

// PrepareError reports a decode or encode failure of the source image.
type PrepareError struct {
	Stage string
	Err   error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("failed to convert image to RGBA format (%s): %v", e.Stage, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }

// New returns the preparer for mode.
func New(mode string, maxDimension int) (Preparer, error) {
	switch mode {
	case "", ModeRGBA:
		return &RGBA{MaxDimension: maxDimension}, nil
	case ModePassthrough:
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown image preparation mode %q", mode)
	}
}

// RGBA decodes the source, redraws it onto an NRGBA canvas and re-encodes it
// as PNG. Grayscale, paletted and CMYK sources come out as 8-bit RGBA.
type RGBA struct {
	// MaxDimension bounds the longer side; larger images are scaled to fit.
	// Zero disables scaling.
	MaxDimension int
}

func (p *RGBA) Prepare(ctx context.Context, src Source) (Prepared, error) {
	if len(src.Data) == 0 {
		return Prepared{}, &PrepareError{Stage: "decode", Err: fmt.Errorf("empty image payload")}
	}

	img, format, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return Prepared{}, &PrepareError{Stage: "decode", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Prepared{}, err
	}

	g := gift.New()
	b := img.Bounds()
	if p.MaxDimension > 0 && (b.Dx() > p.MaxDimension || b.Dy() > p.MaxDimension) {
		g.Add(gift.ResizeToFit(p.MaxDimension, p.MaxDimension, gift.LanczosResampling))
	}
	dst := image.NewNRGBA(g.Bounds(b))
	g.Draw(dst, img)
	keepAlphaChannel(dst)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Prepared{}, &PrepareError{Stage: "encode", Err: err}
	}

	log.WithFields(log.Fields{
		"source_format": format,
		"source_bytes":  len(src.Data),
		"width":         dst.Bounds().Dx(),
		"height":        dst.Bounds().Dy(),
	}).Debug("Image prepared for processing")

	return Prepared{Data: buf.Bytes(), MIMEType: OutputMIMEType, Normalized: true}, nil
}

// png.Encode writes opaque images without an alpha channel. One pixel at
// alpha 254 keeps the encoder on 8-bit RGBA.
func keepAlphaChannel(m *image.NRGBA) {
	if m.Bounds().Empty() || !m.Opaque() {
		return
	}
	m.Pix[3] = 0xfe
}

// Passthrough forwards the original bytes. Channel layout is not checked, so
// every use is logged and counted.
type Passthrough struct{}

func (Passthrough) Prepare(_ context.Context, src Source) (Prepared, error) {
	if len(src.Data) == 0 {
		return Prepared{}, &PrepareError{Stage: "passthrough", Err: fmt.Errorf("empty image payload")}
	}
	mime := src.ContentType
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(src.Data)
	}
	metrics.PassthroughPreparations.Inc()
	log.WithField("mime_type", mime).Warn("Image forwarded without RGBA normalisation")
	return Prepared{Data: src.Data, MIMEType: mime, Normalized: false}, nil
}
