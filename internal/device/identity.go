// Package device holds the agent's provisioned identity and the one-time
// registration call that obtains it.
package device

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/session"
	"github.com/thereceipt/print-agent/internal/store"
)

// IDLength is the length of a device id as printed on the setup card.
const IDLength = 6

// ErrNotProvisioned means no device id is stored.
var ErrNotProvisioned = errors.New("device not provisioned")

// Branch is the display data of the branch a device belongs to.
type Branch struct {
	ID       string
	Name     string
	Address  string
	Timezone string
	Currency string
}

// Identity is what the server issued at registration.
type Identity struct {
	DeviceID string
	Token    string
	Name     string
	Branch   Branch
}

// Provisioned reports whether the identity can open a session.
func (id Identity) Provisioned() bool {
	return id.DeviceID != ""
}

// ValidateID checks a device id typed by an operator.
func ValidateID(id string) error {
	id = strings.TrimSpace(id)
	if len(id) != IDLength {
		return apperr.Newf(apperr.KindInvalid, "device id must be %d characters, got %d", IDLength, len(id))
	}
	for _, r := range id {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return apperr.Newf(apperr.KindInvalid, "device id has invalid character %q", r)
		}
	}
	return nil
}

// Load reads the identity from s. A missing device id yields
// ErrNotProvisioned together with whatever else is stored.
func Load(s store.Store) (Identity, error) {
	id := Identity{
		DeviceID: store.GetString(s, store.KeyDeviceID),
		Token:    store.GetString(s, store.KeyDeviceToken),
		Name:     store.GetString(s, store.KeyDeviceName),
		Branch: Branch{
			ID:       store.GetString(s, store.KeyBranchID),
			Name:     store.GetString(s, store.KeyBranchName),
			Address:  store.GetString(s, store.KeyBranchAddress),
			Timezone: store.GetString(s, store.KeyBranchTimezone),
			Currency: store.GetString(s, store.KeyBranchCurrency),
		},
	}
	if !id.Provisioned() {
		return id, ErrNotProvisioned
	}
	return id, nil
}

// Save writes every non-empty field of id to s.
func Save(s store.Store, id Identity) error {
	pairs := []struct{ key, value string }{
		{store.KeyDeviceID, id.DeviceID},
		{store.KeyDeviceToken, id.Token},
		{store.KeyDeviceName, id.Name},
		{store.KeyBranchID, id.Branch.ID},
		{store.KeyBranchName, id.Branch.Name},
		{store.KeyBranchAddress, id.Branch.Address},
		{store.KeyBranchTimezone, id.Branch.Timezone},
		{store.KeyBranchCurrency, id.Branch.Currency},
	}
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		if err := s.Set(p.key, p.value); err != nil {
			return fmt.Errorf("save %s: %w", p.key, err)
		}
	}
	return nil
}

// Endpoint builds the session endpoint for this device under serverURL,
// which may be given with or without a ws/wss scheme.
func (id Identity) Endpoint(serverURL string) (session.Endpoint, error) {
	if !id.Provisioned() {
		return session.Endpoint{}, ErrNotProvisioned
	}
	base := strings.TrimRight(serverURL, "/")
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return session.Endpoint{}, apperr.Wrap(apperr.KindInvalid, "parse server url", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return session.Endpoint{}, apperr.Newf(apperr.KindInvalid, "unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/device/" + url.PathEscape(id.DeviceID) + "/"

	h := http.Header{}
	h.Set("Authorization", "Token "+id.Token)
	h.Set("Device-Id", id.DeviceID)
	return session.Endpoint{URL: u.String(), Header: h}, nil
}
