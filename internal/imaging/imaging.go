package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned when the upload is not a decodable image.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooManyPixels is returned when the header declares more than
	// MaxPixels pixels.
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

const (
	// DefaultMaxEdge is the longest edge sent to the vision classifier.
	DefaultMaxEdge = 1600
	// MaxPixels caps width*height of images that are fully decoded.
	MaxPixels = 50_000_000
)

// Info is the header information of an upload.
type Info struct {
	Width  int
	Height int
	Format string
}

// Pixels returns width*height.
func (i Info) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}

// DecodeInfo reads only the image header. Headers declaring more than
// MaxPixels pixels fail with ErrTooManyPixels.
func DecodeInfo(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, ErrUnsupportedFormat
		}
		return Info{}, fmt.Errorf("decode image header: %w", err)
	}
	info := Info{Width: cfg.Width, Height: cfg.Height, Format: format}
	if err := checkPixels(info); err != nil {
		return Info{}, err
	}
	return info, nil
}

func checkPixels(info Info) error {
	if info.Pixels() > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooManyPixels, info.Width, info.Height)
	}
	return nil
}

// PrepareForVision downscales images whose longest edge exceeds maxEdge and
// re-encodes them as JPEG. Smaller images are returned untouched.
func PrepareForVision(data []byte, info Info, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if info.Width <= maxEdge && info.Height <= maxEdge {
		return data, nil
	}
	if err := checkPixels(info); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var scaled image.Image
	if info.Width >= info.Height {
		scaled = resize.Resize(uint(maxEdge), 0, img, resize.Lanczos3)
	} else {
		scaled = resize.Resize(0, uint(maxEdge), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension returns the file extension for a decoded format.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "png", "gif", "webp", "bmp":
		return "." + format
	default:
		return ".img"
	}
}
