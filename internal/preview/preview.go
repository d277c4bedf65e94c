// Package preview draws a markup stream the way the printer would lay it
// out, for checking receipts without paper.
package preview

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/fogleman/gg"

	"github.com/thereceipt/print-agent/internal/printer"
)

const margin = 8

// monoFonts are tried in order; gg's built-in face is used when none loads.
var monoFonts = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSansMono.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationMono-Regular.ttf",
	"/usr/share/fonts/TTF/DejaVuSansMono.ttf",
	"/System/Library/Fonts/Menlo.ttc",
	"/Library/Fonts/Courier New.ttf",
	"C:\\Windows\\Fonts\\consola.ttf",
}

// Renderer paints markup onto a paper-width canvas.
type Renderer struct {
	profile printer.Profile
	width   int
	height  int
	ctx     *gg.Context
	y       float64
	cellW   float64
	lineH   float64
	// fontPath is empty when gg's built-in face is in use.
	fontPath string
	fontSize float64
}

// New creates a renderer for profile p.
func New(p printer.Profile) *Renderer {
	width := p.DotsPerLine() + 2*margin
	initialHeight := 1000

	r := &Renderer{profile: p, width: width, height: initialHeight}
	r.ctx = newCanvas(width, initialHeight)
	r.loadFont()
	return r
}

// Render draws markup and returns the image cropped to its content.
func Render(markup string, p printer.Profile) (image.Image, error) {
	lines, err := printer.ParseMarkup(markup)
	if err != nil {
		return nil, err
	}
	r := New(p)
	for i, line := range lines {
		if err := r.renderLine(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	// paper feed before the cut
	r.y += 3 * r.lineH
	return r.cropToContent(), nil
}

// SavePNG renders markup and writes it to path.
func SavePNG(path, markup string, p printer.Profile) error {
	img, err := Render(markup, p)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}

func newCanvas(w, h int) *gg.Context {
	ctx := gg.NewContext(w, h)
	ctx.SetColor(color.White)
	ctx.Clear()
	ctx.SetColor(color.Black)
	return ctx
}

// loadFont picks a monospace face sized so CharsPerLine cells fill the
// printable width.
func (r *Renderer) loadFont() {
	printable := float64(r.profile.DotsPerLine())
	chars := float64(max(r.profile.CharsPerLine, 1))
	size := printable / chars * 1.6

	for _, path := range monoFonts {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := r.ctx.LoadFontFace(path, size); err == nil {
			r.fontPath, r.fontSize = path, size
			break
		}
	}
	w, h := r.ctx.MeasureString("M")
	r.cellW = printable / chars
	if w > r.cellW {
		// built-in face is wider than the grid; keep its metrics
		r.cellW = w
	}
	r.lineH = h * 1.5
}

func (r *Renderer) renderLine(line printer.Line) error {
	if len(line.Segments) == 0 {
		r.y += r.lineH
		return nil
	}

	var text []printer.Segment
	for _, s := range line.Segments {
		if s.Block != nil {
			if err := r.renderBlock(s); err != nil {
				return err
			}
			continue
		}
		text = append(text, s)
	}
	if len(text) > 0 {
		r.renderText(text)
	}
	return nil
}

func (r *Renderer) renderText(segs []printer.Segment) {
	rowH := 1
	for _, s := range segs {
		for _, run := range s.Runs {
			_, h := run.Size.Scale()
			rowH = max(rowH, h)
		}
	}
	height := r.lineH * float64(rowH)
	r.ensureHeight(int(height) + 1)
	baseline := r.y + height - r.lineH*0.25

	cols := printer.Columns(segs, r.profile.CharsPerLine)
	for i, s := range segs {
		x := margin + float64(cols[i])*r.cellW
		for _, run := range s.Runs {
			sw, sh := run.Size.Scale()
			for _, ch := range run.Text {
				str := string(ch)
				r.ctx.Push()
				r.ctx.ScaleAbout(float64(sw), float64(sh), x, baseline)
				r.ctx.DrawString(str, x, baseline)
				if run.Bold {
					r.ctx.DrawString(str, x+1, baseline)
				}
				r.ctx.Pop()
				x += r.cellW * float64(sw)
			}
		}
	}
	r.y += height
}

func (r *Renderer) renderBlock(s printer.Segment) error {
	b := s.Block
	var img image.Image
	var err error

	switch b.Kind {
	case printer.BlockBarcode:
		img, err = printer.FitBarcode(b.Attr("type", "39"), b.Data, attrInt(b, "width", 2), attrInt(b, "height", 64), r.profile.DotsPerLine())
		if errors.Is(err, printer.ErrBarcodeTooWide) {
			r.renderText([]printer.Segment{{Align: s.Align, Runs: []printer.Run{{Text: b.Data}}}})
			return nil
		}
	case printer.BlockQRCode:
		img, err = printer.QRImage(b.Data, min(attrInt(b, "size", 200), r.profile.DotsPerLine()))
	case printer.BlockImage:
		var raw []byte
		raw, err = hex.DecodeString(b.Data)
		if err == nil {
			img, err = printer.RasterImage(raw)
		}
	default:
		err = fmt.Errorf("unknown block kind %d", b.Kind)
	}
	if err != nil {
		return err
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	r.ensureHeight(h + 4)

	printable := r.profile.DotsPerLine()
	x := margin
	switch s.Align {
	case printer.AlignCenter:
		x += (printable - w) / 2
	case printer.AlignRight:
		x += printable - w
	}
	r.ctx.DrawImage(img, max(x, 0), int(r.y))
	r.y += float64(h) + 4
	return nil
}

func attrInt(b *printer.Block, name string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(b.Attr(name, "")))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (r *Renderer) cropToContent() image.Image {
	finalHeight := int(r.y) + margin
	if finalHeight > r.height {
		finalHeight = r.height
	}

	img := r.ctx.Image()
	return img.(interface {
		SubImage(r image.Rectangle) image.Image
	}).SubImage(image.Rect(0, 0, r.width, finalHeight))
}

func (r *Renderer) ensureHeight(neededHeight int) {
	if int(r.y)+neededHeight <= r.height {
		return
	}
	newHeight := r.height * 2
	if newHeight < int(r.y)+neededHeight {
		newHeight = int(r.y) + neededHeight + 1000
	}

	newCtx := newCanvas(r.width, newHeight)
	newCtx.DrawImage(r.ctx.Image(), 0, 0)
	if r.fontPath != "" {
		_ = newCtx.LoadFontFace(r.fontPath, r.fontSize)
	}
	r.ctx = newCtx
	r.height = newHeight
}
