// Package receipt turns an order into the printer markup stream.
package receipt

import (
	"encoding/hex"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/thereceipt/print-agent/internal/printer"
)

// Header is the branch and device information printed above the order.
type Header struct {
	BranchName     string
	BranchAddress  string
	BranchTimezone string
	Currency       string
	DeviceName     string
	// Logo is already scaled; nil skips the logo.
	Logo image.Image
}

// Render builds the markup for order on profile p. It has no side effects.
func Render(o Order, p printer.Profile, h Header) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}

	cur := h.Currency
	if cur == "" {
		cur = "$"
	}
	rule := strings.Repeat("-", min(p.CharsPerLine, 32))
	stars := strings.Repeat("*", min(p.CharsPerLine, 32))

	var b strings.Builder
	line := func(tag, text string) {
		b.WriteString(tag)
		b.WriteString(text)
		b.WriteByte('\n')
	}

	if logo := logoMarkup(h.Logo, p); logo != "" {
		line("[C]", logo)
	}
	branch := h.BranchName
	if branch == "" {
		branch = o.BranchName
	}
	if branch != "" {
		line("[C]", "<font size='tall'><b>"+clean(branch)+"</b></font>")
	}
	if h.BranchAddress != "" {
		line("[C]", clean(h.BranchAddress))
	}
	if h.BranchTimezone != "" {
		line("[C]", clean(h.BranchTimezone))
	}

	number := clean(string(o.OrderNumber))
	line("[C]", stars)
	line("[C]", "Receipt for Order "+number)
	if o.OrderDate != "" {
		line("[L]", "Date: "+clean(o.OrderDate))
	}
	if o.BranchName != "" {
		line("[L]", "Branch: "+clean(o.BranchName))
	}
	if h.DeviceName != "" {
		line("[L]", "Served by: "+clean(h.DeviceName))
	}

	line("[C]", rule)
	for _, it := range o.Items {
		line("[L]", fmt.Sprintf("%s: %s x %s[R]%s",
			clean(it.MenuItem), quantity(float64(it.Quantity)),
			money(cur, float64(it.Price)), money(cur, it.LineTotal())))
	}
	line("[C]", rule)
	line("[R]", "Total: "+money(cur, o.GrandTotal()))

	line("[C]", fmt.Sprintf("<barcode type='%s' height='64' width='2'>%s</barcode>", barcodeType(number), number))
	line("[C]", stars)
	line("[C]", "Thank you!")
	return b.String(), nil
}

func logoMarkup(img image.Image, p printer.Profile) string {
	if img == nil {
		return ""
	}
	if max := p.DotsPerLine(); max > 0 && img.Bounds().Dx() > max {
		img = fitWidth(img, max)
	}
	raster := printer.EncodeRaster(img)
	if _, _, err := printer.DecodeRaster(raster); err != nil {
		return ""
	}
	return "<img>" + hex.EncodeToString(raster) + "</img>"
}

func money(cur string, v float64) string {
	return cur + strconv.FormatFloat(v, 'f', 2, 64)
}

func quantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

var markupChars = strings.NewReplacer(
	"[L]", "", "[C]", "", "[R]", "",
	"<", "(", ">", ")",
	"\r", " ", "\n", " ",
)

// clean keeps payload text from being read as markup.
func clean(s string) string {
	return strings.TrimSpace(markupChars.Replace(s))
}

// barcodeType picks CODE39 when the value fits its character set.
func barcodeType(s string) string {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
		case strings.ContainsRune("-. $/+%", r):
		default:
			return "128"
		}
	}
	return "39"
}
