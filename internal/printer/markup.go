package printer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// BlockKind tags a segment that renders as an image rather than text.
type BlockKind int

const (
	BlockBarcode BlockKind = iota + 1
	BlockQRCode
	BlockImage
)

// Block is a <barcode>, <qrcode> or <img> element.
type Block struct {
	Kind  BlockKind
	Attrs map[string]string
	Data  string
}

// Attr returns the named attribute or def.
func (b *Block) Attr(name, def string) string {
	if v, ok := b.Attrs[name]; ok && v != "" {
		return v
	}
	return def
}

// TextSize is a character magnification set by <font size='...'>.
type TextSize int

const (
	SizeNormal TextSize = iota
	SizeWide
	SizeTall
	SizeBig
)

// Scale returns the width and height multipliers.
func (s TextSize) Scale() (w, h int) {
	switch s {
	case SizeWide:
		return 2, 1
	case SizeTall:
		return 1, 2
	case SizeBig:
		return 2, 2
	}
	return 1, 1
}

// textSize maps a size attribute to a TextSize. Unknown names print normal.
func textSize(name string) TextSize {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wide":
		return SizeWide
	case "tall":
		return SizeTall
	case "big":
		return SizeBig
	}
	return SizeNormal
}

// Run is a span of text with one style.
type Run struct {
	Text string
	Bold bool
	Size TextSize
}

// Segment is the content following one [L], [C] or [R] tag.
type Segment struct {
	Align byte
	Runs  []Run
	Block *Block
}

// Text returns the segment's characters without markup.
func (s Segment) Text() string {
	var b strings.Builder
	for _, r := range s.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Width is the number of character cells the segment covers. Wide and big
// text take two cells per character.
func (s Segment) Width() int {
	n := 0
	for _, r := range s.Runs {
		w, _ := r.Size.Scale()
		n += w * utf8.RuneCountInString(r.Text)
	}
	return n
}

// Line is one printed line. An empty line feeds paper.
type Line struct {
	Segments []Segment
}

var (
	alignTag  = regexp.MustCompile(`\[(L|C|R)\]`)
	blockTag  = regexp.MustCompile(`^\s*<(barcode|qrcode|img)\b([^>]*)>(.*?)</(barcode|qrcode|img)>\s*$`)
	inlineTag = regexp.MustCompile(`<(/?)(b|font)\b([^>]*)>`)
	attrPair  = regexp.MustCompile(`([a-zA-Z_]+)\s*=\s*['"]([^'"]*)['"]`)
)

// ParseMarkup splits a markup stream into lines of aligned segments.
//
// Each line holds one or more segments introduced by [L], [C] or [R]. Text
// before the first tag is left aligned. Inline <b>..</b> toggles emphasis and
// <font size='wide|tall|big'>..</font> magnifies characters.
// A segment consisting only of <barcode>, <qrcode> or <img> is a block.
func ParseMarkup(markup string) ([]Line, error) {
	markup = strings.ReplaceAll(markup, "\r\n", "\n")
	markup = strings.TrimSuffix(markup, "\n")
	if markup == "" {
		return nil, nil
	}

	raw := strings.Split(markup, "\n")
	lines := make([]Line, 0, len(raw))
	for n, text := range raw {
		line, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func parseLine(text string) (Line, error) {
	var line Line
	if strings.TrimSpace(text) == "" {
		return line, nil
	}

	idx := alignTag.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		seg, err := parseSegment(AlignLeft, text)
		if err != nil {
			return line, err
		}
		line.Segments = append(line.Segments, seg)
		return line, nil
	}

	if lead := text[:idx[0][0]]; strings.TrimSpace(lead) != "" {
		seg, err := parseSegment(AlignLeft, lead)
		if err != nil {
			return line, err
		}
		line.Segments = append(line.Segments, seg)
	}

	for i, m := range idx {
		end := len(text)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		seg, err := parseSegment(alignOf(text[m[2]:m[3]]), text[m[1]:end])
		if err != nil {
			return line, err
		}
		line.Segments = append(line.Segments, seg)
	}
	return line, nil
}

func parseSegment(align byte, text string) (Segment, error) {
	seg := Segment{Align: align}

	if m := blockTag.FindStringSubmatch(text); m != nil {
		if m[1] != m[4] {
			return seg, fmt.Errorf("<%s> closed by </%s>", m[1], m[4])
		}
		block := &Block{Attrs: parseAttrs(m[2]), Data: strings.TrimSpace(m[3])}
		switch m[1] {
		case "barcode":
			block.Kind = BlockBarcode
		case "qrcode":
			block.Kind = BlockQRCode
		case "img":
			block.Kind = BlockImage
		}
		if block.Data == "" {
			return seg, fmt.Errorf("empty <%s>", m[1])
		}
		seg.Block = block
		return seg, nil
	}

	var (
		bold bool
		size TextSize
		pos  int
	)
	for _, m := range inlineTag.FindAllStringSubmatchIndex(text, -1) {
		seg.Runs = appendRun(seg.Runs, text[pos:m[0]], bold, size)
		pos = m[1]
		closing := m[3] > m[2]
		switch text[m[4]:m[5]] {
		case "b":
			bold = !closing
		case "font":
			size = SizeNormal
			if !closing {
				size = textSize(parseAttrs(text[m[6]:m[7]])["size"])
			}
		}
	}
	seg.Runs = appendRun(seg.Runs, text[pos:], bold, size)
	return seg, nil
}

func appendRun(runs []Run, text string, bold bool, size TextSize) []Run {
	if text == "" {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Bold == bold && runs[n-1].Size == size {
		runs[n-1].Text += text
		return runs
	}
	return append(runs, Run{Text: text, Bold: bold, Size: size})
}

func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPair.FindAllStringSubmatch(s, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	return attrs
}

func alignOf(tag string) byte {
	switch tag {
	case "C":
		return AlignCenter
	case "R":
		return AlignRight
	default:
		return AlignLeft
	}
}

// AlignTag returns the markup tag for an alignment.
func AlignTag(a byte) string {
	switch a {
	case AlignCenter:
		return "[C]"
	case AlignRight:
		return "[R]"
	default:
		return "[L]"
	}
}

// Columns places the text segments of a line on a row of width characters and
// returns the starting column of each. Segments never overlap; a segment
// that does not fit starts right after its predecessor.
func Columns(segs []Segment, width int) []int {
	cols := make([]int, len(segs))
	cursor := 0
	for i, s := range segs {
		w := s.Width()
		col := cursor
		switch s.Align {
		case AlignCenter:
			col = (width - w) / 2
		case AlignRight:
			col = width - w
		}
		if col < cursor {
			col = cursor
		}
		cols[i] = col
		cursor = col + w
	}
	return cols
}
