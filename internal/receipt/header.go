package receipt

import (
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/printer"
	"github.com/thereceipt/print-agent/internal/store"
)

// LoadHeader reads the branch display data and the cached logo. Logo failures
// are logged and the receipt prints without it.
func LoadHeader(s store.Store, p printer.Profile, logoMaxHeight int, log zerolog.Logger) Header {
	h := Header{
		BranchName:     store.GetString(s, store.KeyBranchName),
		BranchAddress:  store.GetString(s, store.KeyBranchAddress),
		BranchTimezone: store.GetString(s, store.KeyBranchTimezone),
		Currency:       store.GetString(s, store.KeyBranchCurrency),
		DeviceName:     store.GetString(s, store.KeyDeviceName),
	}

	path := store.GetString(s, store.KeyLogoPath)
	if path == "" {
		return h
	}
	logo, err := LoadLogo(path, logoMaxHeight, p.DotsPerLine())
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("logo skipped")
		return h
	}
	h.Logo = logo
	return h
}
