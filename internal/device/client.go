package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/protocol"
)

const registerPath = "/api/hardware/register-device/"

// Client talks to the coordination server's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	log        zerolog.Logger
}

type ClientOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Log       zerolog.Logger
}

func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent: opts.UserAgent,
		log:       opts.Log.With().Str("component", "device").Logger(),
	}
}

type registerRequest struct {
	DeviceID string `json:"device_id"`
}

type registerResponse struct {
	Branch struct {
		BranchID protocol.StringOrNumber `json:"branch_id"`
		Name     string                  `json:"name"`
		Address  string                  `json:"address"`
		Timezone string                  `json:"timezone"`
		Currency string                  `json:"currency"`
	} `json:"branch"`
	Device struct {
		DeviceID    protocol.StringOrNumber `json:"device_id"`
		DeviceToken string                  `json:"device_token"`
		Name        string                  `json:"name"`
	} `json:"device"`
}

// Register exchanges a device id for the device token and branch binding.
func (c *Client) Register(ctx context.Context, deviceID string) (Identity, error) {
	if err := ValidateID(deviceID); err != nil {
		return Identity{}, err
	}

	var out registerResponse
	if err := c.doJSON(ctx, http.MethodPost, registerPath, registerRequest{DeviceID: strings.TrimSpace(deviceID)}, &out); err != nil {
		return Identity{}, err
	}
	if out.Device.DeviceID == "" || out.Device.DeviceToken == "" {
		return Identity{}, apperr.New(apperr.KindProtocol, "registration response missing device credentials")
	}
	if out.Branch.BranchID == "" {
		return Identity{}, apperr.New(apperr.KindProtocol, "registration response missing branch_id")
	}

	name := out.Device.Name
	if name == "" {
		name = "Unknown"
	}
	id := Identity{
		DeviceID: out.Device.DeviceID.String(),
		Token:    out.Device.DeviceToken,
		Name:     name,
		Branch: Branch{
			ID:       out.Branch.BranchID.String(),
			Name:     out.Branch.Name,
			Address:  out.Branch.Address,
			Timezone: out.Branch.Timezone,
			Currency: out.Branch.Currency,
		},
	}
	c.log.Info().Str("device_id", id.DeviceID).Str("branch_id", id.Branch.ID).Msg("device registered")
	return id, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "register", err)
	}
	defer resp.Body.Close()

	respB, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respB))
		if msg == "" {
			msg = resp.Status
		}
		return apperr.Newf(apperr.KindTransport, "server http %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if len(respB) == 0 {
		return apperr.Wrap(apperr.KindProtocol, "register", errors.New("empty response body"))
	}
	if err := json.Unmarshal(respB, out); err != nil {
		return apperr.Wrap(apperr.KindProtocol, "decode response", err)
	}
	return nil
}
