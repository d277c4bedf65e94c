package preview

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thereceipt/print-agent/internal/printer"
)

func profile(t *testing.T) printer.Profile {
	t.Helper()
	p, ok := printer.LookupProfile("TM-T88III")
	if !ok {
		t.Fatal("default profile missing")
	}
	return p
}

func darkPixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if (r+g+bl)/3 < 0x8000 {
				n++
			}
		}
	}
	return n
}

func TestRenderWidthAndInk(t *testing.T) {
	p := profile(t)
	img, err := Render("[C]<b>Hello</b>\n[L]Tea[R]$1.00\n", p)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got, want := img.Bounds().Dx(), p.DotsPerLine()+2*margin; got != want {
		t.Errorf("width = %d, want %d", got, want)
	}
	if darkPixels(img) == 0 {
		t.Error("nothing drawn")
	}
}

func TestRenderFontSize(t *testing.T) {
	p := profile(t)
	normal, err := Render("[L]AB\n", p)
	if err != nil {
		t.Fatal(err)
	}
	big, err := Render("[L]<font size='big'>AB</font>\n", p)
	if err != nil {
		t.Fatal(err)
	}
	if big.Bounds().Dy() <= normal.Bounds().Dy() {
		t.Errorf("big row height %d, normal %d", big.Bounds().Dy(), normal.Bounds().Dy())
	}
	if darkPixels(big) <= darkPixels(normal) {
		t.Errorf("big text should carry more ink: %d vs %d", darkPixels(big), darkPixels(normal))
	}
}

func TestRenderGrowsForTallContent(t *testing.T) {
	p := profile(t)
	short, err := Render("[L]one\n", p)
	if err != nil {
		t.Fatal(err)
	}
	long, err := Render(strings.Repeat("[L]line\n", 200), p)
	if err != nil {
		t.Fatal(err)
	}
	if long.Bounds().Dy() <= 1000 || long.Bounds().Dy() <= short.Bounds().Dy() {
		t.Errorf("heights short=%d long=%d", short.Bounds().Dy(), long.Bounds().Dy())
	}
}

func TestRenderBlocks(t *testing.T) {
	p := profile(t)
	img, err := Render(printer.TestPattern(p), p)
	if err != nil {
		t.Fatalf("Render test pattern: %v", err)
	}
	// the qr code alone is 160 dots tall
	if img.Bounds().Dy() < 160 {
		t.Errorf("height = %d", img.Bounds().Dy())
	}

	if _, err := Render("[C]<img>zz</img>", p); err == nil {
		t.Error("bad image hex accepted")
	}
	if _, err := Render("[C]<barcode type='99'>X</barcode>", p); err == nil {
		t.Error("unknown barcode type accepted")
	}
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	if err := SavePNG(path, "[C]Receipt\n", profile(t)); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Errorf("png not written: %v", err)
	}
}
