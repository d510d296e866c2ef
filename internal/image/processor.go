package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Supported image format names.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatGIF  = "gif"
)

// MaxSourceBytes caps how much of a source file is read into memory.
const MaxSourceBytes = 64 << 20

const visionJPEGQuality = 85

// Prepared is an image payload ready to send to a vision model.
type Prepared struct {
	Data   []byte
	Format string // empty when the format was not recognized and Data is the raw file
	Width  int
	Height int
	Scaled bool
}

// DetectFormat reads the first bytes from r to identify the image format.
// Returns "jpeg", "png", "gif" or "webp". The returned reader replays the
// consumed bytes.
func DetectFormat(r io.Reader) (format string, replay io.Reader, err error) {
	// 12 bytes covers every signature checked below
	buf := make([]byte, 12)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("reading header: %w", err)
	}
	buf = buf[:n]

	replay = io.MultiReader(bytes.NewReader(buf), r)

	if n >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF {
		return FormatJPEG, replay, nil
	}
	if n >= 8 && string(buf[:8]) == "\x89PNG\r\n\x1a\n" {
		return FormatPNG, replay, nil
	}
	if n >= 6 && (string(buf[:6]) == "GIF87a" || string(buf[:6]) == "GIF89a") {
		return FormatGIF, replay, nil
	}
	if n >= 12 && string(buf[:4]) == "RIFF" && string(buf[8:12]) == "WEBP" {
		return FormatWebP, replay, nil
	}

	return "", replay, fmt.Errorf("unrecognized image format")
}

// GetDimensions decodes only the image header to read width and height.
func GetDimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// PrepareForVision shrinks an image so its longest side is at most maxDim.
// JPEG and PNG input that already fits is returned byte for byte; anything
// decodable that needs scaling, or is GIF/WebP, is re-encoded as JPEG.
// Formats this package cannot decode (HEIC, for one) pass through unchanged
// so the model can still try. maxDim <= 0 disables scaling.
func PrepareForVision(src io.Reader, maxDim int) (*Prepared, error) {
	raw, err := io.ReadAll(io.LimitReader(src, MaxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(raw) > MaxSourceBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxSourceBytes)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	format, _, err := DetectFormat(bytes.NewReader(raw))
	if err != nil {
		return &Prepared{Data: raw}, nil
	}

	w, h, err := GetDimensions(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	newW, newH := w, h
	if maxDim > 0 {
		newW, newH = fitDimensions(w, h, maxDim, maxDim)
	}
	fits := newW == w && newH == h
	if fits && (format == FormatJPEG || format == FormatPNG) {
		return &Prepared{Data: raw, Format: format, Width: w, Height: h}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if !fits {
		img = scale(img, newW, newH)
	}

	data, err := encode(flatten(img), FormatJPEG, visionJPEGQuality)
	if err != nil {
		return nil, err
	}
	return &Prepared{Data: data, Format: FormatJPEG, Width: newW, Height: newH, Scaled: !fits}, nil
}

func scale(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// flatten composites img onto white so transparent regions do not turn
// black when encoded as JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// fitDimensions calculates the scaled dimensions that fit within maxW x maxH
// while preserving the aspect ratio. If the image already fits, returns original dimensions.
func fitDimensions(origW, origH, maxW, maxH int) (int, int) {
	if origW <= maxW && origH <= maxH {
		return origW, origH
	}

	ratio := math.Min(float64(maxW)/float64(origW), float64(maxH)/float64(origH))

	newW := max(int(math.Round(float64(origW)*ratio)), 1)
	newH := max(int(math.Round(float64(origH)*ratio)), 1)
	return newW, newH
}

// encode writes an image in the specified format to a byte slice.
func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}
