package receipt

import (
	"image"

	"github.com/disintegration/imaging"
)

// LoadLogo reads the cached branch logo and scales it down, keeping the
// aspect ratio, so it is at most maxHeight tall and maxWidth wide. A missing
// or unreadable file yields an error; callers print without a logo then.
func LoadLogo(path string, maxHeight, maxWidth int) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	if maxWidth <= 0 {
		maxWidth = img.Bounds().Dx()
	}
	if maxHeight <= 0 {
		maxHeight = img.Bounds().Dy()
	}
	img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	return imaging.Grayscale(img), nil
}

func fitWidth(img image.Image, width int) image.Image {
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}
