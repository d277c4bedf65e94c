package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/store"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"AB12CD", true},
		{" ab12cd ", true},
		{"ABC", false},
		{"ABCDEFG", false},
		{"AB-2CD", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateID(tt.id)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateID(%q) = %v", tt.id, err)
		}
		if err != nil && apperr.KindOf(err) != apperr.KindInvalid {
			t.Errorf("ValidateID(%q) kind = %v", tt.id, apperr.KindOf(err))
		}
	}
}

func TestLoadSave(t *testing.T) {
	s := store.NewMemory()
	if _, err := Load(s); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("Load on empty store = %v", err)
	}

	want := Identity{
		DeviceID: "AB12CD",
		Token:    "tok",
		Name:     "Front counter",
		Branch:   Branch{ID: "42", Name: "Downtown", Currency: "€"},
	}
	if err := Save(s, want); err != nil {
		t.Fatal(err)
	}
	got, err := Load(s)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestEndpoint(t *testing.T) {
	id := Identity{DeviceID: "AB12CD", Token: "tok"}

	tests := []struct {
		server string
		want   string
	}{
		{"example.com:8000", "ws://example.com:8000/ws/device/AB12CD/"},
		{"wss://example.com/", "wss://example.com/ws/device/AB12CD/"},
		{"https://example.com/agent", "wss://example.com/agent/ws/device/AB12CD/"},
		{"http://10.0.0.2", "ws://10.0.0.2/ws/device/AB12CD/"},
	}
	for _, tt := range tests {
		ep, err := id.Endpoint(tt.server)
		if err != nil {
			t.Fatalf("Endpoint(%q): %v", tt.server, err)
		}
		if ep.URL != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.server, ep.URL, tt.want)
		}
		if got := ep.Header.Get("Authorization"); got != "Token tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := ep.Header.Get("Device-Id"); got != "AB12CD" {
			t.Errorf("Device-Id = %q", got)
		}
	}

	if _, err := (Identity{}).Endpoint("ws://x"); !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("unprovisioned Endpoint err = %v", err)
	}
	if _, err := id.Endpoint("ftp://x"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("ftp Endpoint err = %v", err)
	}
}

func TestRegister(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != registerPath {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"branch":{"branch_id":17,"name":"Downtown"},"device":{"device_id":"AB12CD","device_token":"secret"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Log: zerolog.Nop()})
	id, err := c.Register(context.Background(), "AB12CD")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if gotBody["device_id"] != "AB12CD" {
		t.Errorf("request body = %v", gotBody)
	}
	if id.Token != "secret" || id.Branch.ID != "17" || id.Branch.Name != "Downtown" || id.Name != "Unknown" {
		t.Errorf("identity = %+v", id)
	}
}

func TestRegisterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown device", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Log: zerolog.Nop()})
	_, err := c.Register(context.Background(), "AB12CD")
	if err == nil || apperr.KindOf(err) != apperr.KindTransport {
		t.Fatalf("Register on 404 = %v", err)
	}

	if _, err := c.Register(context.Background(), "short"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Errorf("Register with bad id = %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"branch":{},"device":{}}`))
	}))
	defer empty.Close()
	c = NewClient(ClientOptions{BaseURL: empty.URL, Log: zerolog.Nop()})
	if _, err := c.Register(context.Background(), "AB12CD"); apperr.KindOf(err) != apperr.KindProtocol {
		t.Errorf("Register with empty response = %v", err)
	}
}
