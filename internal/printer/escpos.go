package printer

import (
	"bytes"
	"fmt"
	"image"
)

// ESC/POS commands
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment values for ESC a.
const (
	AlignLeft   byte = 0
	AlignCenter byte = 1
	AlignRight  byte = 2
)

// Barcode systems for GS k (function B).
const (
	barcodeCode39  byte = 69
	barcodeCode128 byte = 73
	barcodeEAN13   byte = 67
)

// Encoder accumulates an ESC/POS byte stream.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Initialize resets the printer (ESC @).
func (e *Encoder) Initialize() {
	e.buf.Write([]byte{ESC, '@'})
}

// SetAlignment sets ESC a.
func (e *Encoder) SetAlignment(a byte) {
	if a > AlignRight {
		a = AlignLeft
	}
	e.buf.Write([]byte{ESC, 'a', a})
}

// SetBold enables or disables emphasized mode.
func (e *Encoder) SetBold(on bool) {
	var n byte
	if on {
		n = 1
	}
	e.buf.Write([]byte{ESC, 'E', n})
}

// SetTextSize sets character magnification, 1..8 in each direction.
func (e *Encoder) SetTextSize(width, height int) {
	width = clamp(width, 1, 8)
	height = clamp(height, 1, 8)
	e.buf.Write([]byte{GS, '!', byte((width-1)<<4 | (height - 1))})
}

// WriteText writes raw text without a line feed.
func (e *Encoder) WriteText(s string) {
	e.buf.WriteString(s)
}

// LineFeed ends the current line.
func (e *Encoder) LineFeed() {
	e.buf.WriteByte(LF)
}

// Feed prints n empty lines.
func (e *Encoder) Feed(n int) {
	for i := 0; i < n; i++ {
		e.LineFeed()
	}
}

// Cut performs a full cut.
func (e *Encoder) Cut() {
	e.buf.Write([]byte{GS, 'V', 0})
}

// Barcode prints data with the printer's own barcode generator.
func (e *Encoder) Barcode(kind string, data string, height, width int) error {
	var m byte
	payload := data
	switch kind {
	case "39", "code39":
		m = barcodeCode39
	case "128", "code128":
		m = barcodeCode128
		payload = "{B" + data
	case "ean13":
		m = barcodeEAN13
	default:
		return fmt.Errorf("unsupported barcode type %q", kind)
	}
	if len(payload) == 0 || len(payload) > 255 {
		return fmt.Errorf("barcode data length %d out of range", len(data))
	}

	e.buf.Write([]byte{GS, 'h', byte(clamp(height, 1, 255))})
	e.buf.Write([]byte{GS, 'w', byte(clamp(width, 2, 6))})
	// HRI below the bars.
	e.buf.Write([]byte{GS, 'H', 2})
	e.buf.Write([]byte{GS, 'k', m, byte(len(payload))})
	e.buf.WriteString(payload)
	e.LineFeed()
	return nil
}

// Raster prints an image with GS v 0.
func (e *Encoder) Raster(img image.Image) {
	e.buf.Write(EncodeRaster(img))
	e.LineFeed()
}

// WriteRaw appends pre-encoded bytes.
func (e *Encoder) WriteRaw(b []byte) {
	e.buf.Write(b)
}

// Bytes returns the stream built so far.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// EncodeRaster converts img into a complete GS v 0 command. The width is
// padded up to a whole byte.
func EncodeRaster(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	rowBytes := (width + 7) / 8

	out := make([]byte, 0, 8+rowBytes*height)
	out = append(out, GS, 'v', '0', 0,
		byte(rowBytes), byte(rowBytes>>8),
		byte(height), byte(height>>8))
	return append(out, imageToBitmap(img)...)
}

// DecodeRaster validates a GS v 0 command and returns its dimensions in dots.
func DecodeRaster(b []byte) (width, height int, err error) {
	if len(b) < 8 || b[0] != GS || b[1] != 'v' || b[2] != '0' {
		return 0, 0, fmt.Errorf("not a GS v 0 raster")
	}
	rowBytes := int(b[4]) | int(b[5])<<8
	height = int(b[6]) | int(b[7])<<8
	if want := 8 + rowBytes*height; len(b) != want {
		return 0, 0, fmt.Errorf("raster length %d, want %d", len(b), want)
	}
	return rowBytes * 8, height, nil
}

// RasterImage decodes a GS v 0 command back into a bitmap.
func RasterImage(b []byte) (*image.Gray, error) {
	width, height, err := DecodeRaster(b)
	if err != nil {
		return nil, err
	}
	rowBytes := width / 8
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	data := b[8:]
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if data[y*rowBytes+x/8]&(1<<(7-uint(x%8))) != 0 {
				img.Pix[y*img.Stride+x] = 0
			}
		}
	}
	return img, nil
}

// imageToBitmap converts an image to a 1-bit bitmap, MSB first.
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	rowBytes := (width + 7) / 8
	bitmap := make([]byte, rowBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, a := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			// Transparent pixels are paper.
			if a < 0x8000 {
				continue
			}
			if (r+g+b)/3 < 0x8000 {
				bitmap[y*rowBytes+x/8] |= 1 << (7 - uint(x%8))
			}
		}
	}
	return bitmap
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
