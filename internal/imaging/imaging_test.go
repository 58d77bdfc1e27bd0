package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeInfo(t *testing.T) {
	info, err := DecodeInfo(pngBytes(t, 640, 480))
	if err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Width != 640 || info.Height != 480 || info.Format != "png" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestDecodeInfoUnsupported(t *testing.T) {
	if _, err := DecodeInfo([]byte("%PDF-1.7 not an image")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat got %v", err)
	}
}

func TestPrepareForVision(t *testing.T) {
	small := pngBytes(t, 320, 200)
	out, err := PrepareForVision(small, Info{Width: 320, Height: 200, Format: "png"}, 400)
	if err != nil {
		t.Fatalf("prepare small: %v", err)
	}
	if !bytes.Equal(out, small) {
		t.Fatalf("small image should pass through unchanged")
	}

	tall := pngBytes(t, 300, 900)
	out, err = PrepareForVision(tall, Info{Width: 300, Height: 900, Format: "png"}, 450)
	if err != nil {
		t.Fatalf("prepare tall: %v", err)
	}
	info, err := DecodeInfo(out)
	if err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	if info.Format != "jpeg" || info.Height != 450 || info.Width != 150 {
		t.Fatalf("unexpected prepared info %+v", info)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGBA pixels
// with no image data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk := append([]byte("IHDR"), ihdr...)
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ihdr)))
	buf.Write(length[:])
	buf.Write(chunk)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(chunk))
	buf.Write(crc[:])
	return buf.Bytes()
}

func TestPixelBudget(t *testing.T) {
	huge := pngHeader(30000, 30000)
	if _, err := DecodeInfo(huge); !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels from header got %v", err)
	}
	_, err := PrepareForVision(huge, Info{Width: 30000, Height: 30000, Format: "png"}, 1600)
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected ErrTooManyPixels before decode got %v", err)
	}

	info, err := DecodeInfo(pngHeader(5000, 5000))
	if err != nil {
		t.Fatalf("25MP header should pass: %v", err)
	}
	if info.Pixels() != 25_000_000 {
		t.Fatalf("unexpected pixel count %d", info.Pixels())
	}
}
