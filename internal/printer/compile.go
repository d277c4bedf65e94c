package printer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Compile turns a markup stream into the ESC/POS bytes for p: initialize,
// the lines, three feeds and a full cut.
func Compile(markup string, p Profile) ([]byte, error) {
	lines, err := ParseMarkup(markup)
	if err != nil {
		return nil, err
	}

	enc := NewEncoder()
	enc.Initialize()
	for i, line := range lines {
		if err := writeLine(enc, line, p); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	enc.Feed(3)
	enc.Cut()
	return enc.Bytes(), nil
}

func writeLine(enc *Encoder, line Line, p Profile) error {
	if len(line.Segments) == 0 {
		enc.LineFeed()
		return nil
	}

	hasBlock := false
	for _, s := range line.Segments {
		if s.Block != nil {
			hasBlock = true
			break
		}
	}

	if !hasBlock && len(line.Segments) > 1 {
		writeColumns(enc, line.Segments, p.CharsPerLine)
		return nil
	}

	for _, s := range line.Segments {
		enc.SetAlignment(s.Align)
		if s.Block != nil {
			if err := writeBlock(enc, s.Block, p); err != nil {
				return err
			}
			continue
		}
		writeRuns(enc, s.Runs)
		enc.LineFeed()
	}
	return nil
}

func writeColumns(enc *Encoder, segs []Segment, width int) {
	enc.SetAlignment(AlignLeft)
	cursor := 0
	for i, col := range Columns(segs, width) {
		if pad := col - cursor; pad > 0 {
			enc.WriteText(strings.Repeat(" ", pad))
		}
		writeRuns(enc, segs[i].Runs)
		cursor = col + segs[i].Width()
	}
	enc.LineFeed()
}

func writeRuns(enc *Encoder, runs []Run) {
	for _, r := range runs {
		if r.Size != SizeNormal {
			enc.SetTextSize(r.Size.Scale())
		}
		if r.Bold {
			enc.SetBold(true)
			enc.WriteText(r.Text)
			enc.SetBold(false)
		} else {
			enc.WriteText(r.Text)
		}
		if r.Size != SizeNormal {
			enc.SetTextSize(1, 1)
		}
	}
}

func writeBlock(enc *Encoder, b *Block, p Profile) error {
	switch b.Kind {
	case BlockBarcode:
		kind := b.Attr("type", "39")
		height := atoiOr(b.Attr("height", ""), 64)
		width := atoiOr(b.Attr("width", ""), 2)
		if p.NativeBarcode {
			return enc.Barcode(kind, b.Data, height, width)
		}
		img, err := FitBarcode(kind, b.Data, width, height, p.DotsPerLine())
		if errors.Is(err, ErrBarcodeTooWide) {
			// print the human readable data instead
			enc.WriteText(b.Data)
			enc.LineFeed()
			return nil
		}
		if err != nil {
			return err
		}
		enc.Raster(img)
		return nil

	case BlockQRCode:
		size := atoiOr(b.Attr("size", ""), 200)
		if max := p.DotsPerLine(); max > 0 && size > max {
			size = max
		}
		img, err := QRImage(b.Data, size)
		if err != nil {
			return err
		}
		enc.Raster(img)
		return nil

	case BlockImage:
		raw, err := hex.DecodeString(b.Data)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		if _, _, err := DecodeRaster(raw); err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		enc.WriteRaw(raw)
		enc.LineFeed()
		return nil
	}
	return fmt.Errorf("unknown block kind %d", b.Kind)
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// TestPattern is printed by the test command.
func TestPattern(p Profile) string {
	var b strings.Builder
	b.WriteString("[C]<b>Test Print</b>\n")
	b.WriteString("[C]" + p.Name + "\n")
	b.WriteString("[L]Left[C]Center[R]Right\n")
	b.WriteString("[C]" + strings.Repeat("-", p.CharsPerLine) + "\n")
	b.WriteString("[C]<barcode type='39' height='48' width='2'>TEST</barcode>\n")
	b.WriteString("[C]<qrcode size='160'>print-agent test</qrcode>\n")
	return b.String()
}
