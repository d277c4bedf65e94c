package printer

import "strings"

// Profile describes the command-set dialect and paper geometry of a printer
// model.
type Profile struct {
	Name         string
	DPI          int
	WidthMM      float64
	CharsPerLine int
	// NativeBarcode is false for printers whose firmware lacks GS k; barcodes
	// are then sent as raster images.
	NativeBarcode bool
}

// DotsPerLine is the printable width in dots.
func (p Profile) DotsPerLine() int {
	return int(p.WidthMM / 25.4 * float64(p.DPI))
}

// DefaultProfileName names the profile used when none is configured.
const DefaultProfileName = "TM-T88III"

var profiles = map[string]Profile{
	"TM-T88III": {Name: "TM-T88III", DPI: 203, WidthMM: 48, CharsPerLine: 32, NativeBarcode: true},
	"TM-T88V":   {Name: "TM-T88V", DPI: 180, WidthMM: 72, CharsPerLine: 42, NativeBarcode: true},
	"TM-T20":    {Name: "TM-T20", DPI: 203, WidthMM: 72, CharsPerLine: 48, NativeBarcode: true},
	"TM-m30":    {Name: "TM-m30", DPI: 203, WidthMM: 72, CharsPerLine: 48, NativeBarcode: true},
	"58mm":      {Name: "58mm", DPI: 203, WidthMM: 48, CharsPerLine: 32},
	"80mm":      {Name: "80mm", DPI: 203, WidthMM: 72, CharsPerLine: 48},
}

// LookupProfile returns the named profile, falling back to the default for
// unknown names. The bool reports whether the name was known.
func LookupProfile(name string) (Profile, bool) {
	if p, ok := profiles[name]; ok {
		return p, true
	}
	for k, p := range profiles {
		if strings.EqualFold(k, name) {
			return p, true
		}
	}
	return profiles[DefaultProfileName], false
}

// ProfileNames lists the known profiles.
func ProfileNames() []string {
	return []string{"TM-T88III", "TM-T88V", "TM-T20", "TM-m30", "58mm", "80mm"}
}
