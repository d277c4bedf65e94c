package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StringOrNumber accepts JSON values like 123 or "123" and stores them as a string.
type StringOrNumber string

func (s *StringOrNumber) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}

	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = StringOrNumber(str)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = StringOrNumber(n.String())
	return nil
}

func (s StringOrNumber) String() string { return string(s) }

// Decimal is a number that may arrive quoted ("5.50").
type Decimal float64

func (d *Decimal) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*d = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*d = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*d = Decimal(f)
	return nil
}

// USBID is a bus vendor or product id normalised to 4 lowercase hex digits.
// Strings are read as hex ("04B8", "0x4b8"); bare numbers as decimal.
type USBID string

func (u *USBID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*u = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
		if s == "" {
			*u = ""
			return nil
		}
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return fmt.Errorf("invalid usb id %q", s)
		}
		*u = USBID(fmt.Sprintf("%04x", v))
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 16)
	if err != nil {
		return fmt.Errorf("invalid usb id %s", b)
	}
	*u = USBID(fmt.Sprintf("%04x", v))
	return nil
}
