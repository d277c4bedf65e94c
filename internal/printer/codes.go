package printer

import (
	"errors"
	"fmt"
	"image"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/code39"
	"github.com/boombuler/barcode/ean"
	"github.com/skip2/go-qrcode"
)

// BarcodeImage renders a barcode as a bitmap with the given module width and
// bar height in dots.
func BarcodeImage(kind, data string, moduleWidth, height int) (image.Image, error) {
	var bc barcode.Barcode
	var err error

	switch kind {
	case "39", "code39":
		bc, err = code39.Encode(data, false, false)
	case "128", "code128":
		bc, err = code128.Encode(data)
	case "ean13":
		bc, err = ean.Encode(data)
	default:
		return nil, fmt.Errorf("unsupported barcode type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("encode barcode: %w", err)
	}

	if moduleWidth < 1 {
		moduleWidth = 1
	}
	if height < 1 {
		height = 64
	}
	scaled, err := barcode.Scale(bc, bc.Bounds().Dx()*moduleWidth, height)
	if err != nil {
		return nil, fmt.Errorf("scale barcode: %w", err)
	}
	return scaled, nil
}

// ErrBarcodeTooWide is returned by FitBarcode when the code does not fit the
// paper even at one dot per module.
var ErrBarcodeTooWide = errors.New("barcode wider than paper")

// FitBarcode renders like BarcodeImage, narrowing the module width until the
// image is at most maxWidth dots wide. maxWidth <= 0 means no limit.
func FitBarcode(kind, data string, moduleWidth, height, maxWidth int) (image.Image, error) {
	for w := max(moduleWidth, 1); ; w-- {
		img, err := BarcodeImage(kind, data, w, height)
		if err != nil {
			return nil, err
		}
		if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
			return img, nil
		}
		if w == 1 {
			return nil, ErrBarcodeTooWide
		}
	}
}

// QRImage renders a square QR code of size dots.
func QRImage(data string, size int) (image.Image, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qrcode: %w", err)
	}
	if size <= 0 {
		size = 200
	}
	return qr.Image(size), nil
}
