package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	pathRegister   = "/api/v1/devices/register"
	pathHeartbeat  = "/api/v1/devices/heartbeat"
	pathWeight     = "/api/v1/devices/scale/weight"
	pathLocate     = "/api/v1/devices/scale/locate"
	pathRfidResult = "/api/v1/devices/rfid-result"

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 64 << 10
)

// Target is where and as whom a call is made.
type Target struct {
	BaseURL string
	Token   string
}

// WeightReport is the body of a weight update.
type WeightReport struct {
	SpoolID        string
	TagUUID        string
	MeasuredWeight float64
}

// WeightResult is what the backend knows about the weighed spool.
type WeightResult struct {
	RemainingWeight float64
	HasRemaining    bool
}

// LocationReport moves a spool to a storage location.
type LocationReport struct {
	SpoolID         string
	SpoolTagUUID    string
	LocationID      string
	LocationTagUUID string
}

// RfidResult reports the outcome of a tag write the backend asked for.
type RfidResult struct {
	Success      bool
	TagUUID      string
	SpoolID      string
	LocationID   string
	ErrorMessage string
}

// Client talks to the backend. Timeouts come from the caller's context.
type Client struct {
	http *http.Client
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// Register exchanges a device code for a device token.
//
// Parameters:
//   - ctx: Context carrying the request timeout
//   - baseURL: Backend base URL
//   - deviceCode: One-time code shown in the backend UI
//
// Returns:
//   - string: device token for later calls
//   - error: ErrNotConfigured, a *StatusError, or ErrRequestFailed
func (c *Client) Register(ctx context.Context, baseURL, deviceCode string) (string, error) {
	if baseURL == "" {
		return "", ErrNotConfigured
	}

	body, err := c.post(ctx, baseURL, pathRegister, map[string]any{}, func(h http.Header) {
		h.Set("X-Device-Code", deviceCode)
	}, http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}

	token := gjson.GetBytes(body, "token")
	if token.Type != gjson.String || token.String() == "" {
		return "", fmt.Errorf("%w: register response has no token", ErrRequestFailed)
	}
	return token.String(), nil
}

// Heartbeat tells the backend the device is alive and where it can be reached.
func (c *Client) Heartbeat(ctx context.Context, t Target, ipAddress string) error {
	_, err := c.authPost(ctx, t, pathHeartbeat, map[string]any{"ip_address": ipAddress})
	return err
}

// SendWeight reports a settled weight. The backend may answer with the
// spool's remaining filament weight.
//
// Parameters:
//   - ctx: Context carrying the request timeout
//   - t: Backend URL and device token
//   - r: Spool identity and measured weight
//
// Returns:
//   - WeightResult: remaining weight, when the backend sent one
//   - error: ErrNotRegistered, a *StatusError, or ErrRequestFailed
func (c *Client) SendWeight(ctx context.Context, t Target, r WeightReport) (WeightResult, error) {
	payload := map[string]any{"measured_weight_g": r.MeasuredWeight}
	if id, ok := numericID(r.SpoolID); ok {
		payload["spool_id"] = id
	}
	if r.TagUUID != "" {
		payload["tag_uuid"] = r.TagUUID
	}

	body, err := c.authPost(ctx, t, pathWeight, payload)
	if err != nil {
		return WeightResult{}, err
	}

	var res WeightResult
	if remaining := gjson.GetBytes(body, "remaining_weight_g"); remaining.Type == gjson.Number {
		res.RemainingWeight = remaining.Float()
		res.HasRemaining = true
	}
	return res, nil
}

// SendLocation reports a spool placed at a location.
func (c *Client) SendLocation(ctx context.Context, t Target, r LocationReport) error {
	payload := map[string]any{}
	if id, ok := numericID(r.SpoolID); ok {
		payload["spool_id"] = id
	}
	if r.SpoolTagUUID != "" {
		payload["spool_tag_uuid"] = r.SpoolTagUUID
	}
	if id, ok := numericID(r.LocationID); ok {
		payload["location_id"] = id
	}
	if r.LocationTagUUID != "" {
		payload["location_tag_uuid"] = r.LocationTagUUID
	}

	_, err := c.authPost(ctx, t, pathLocate, payload)
	return err
}

// SendRfidResult reports the outcome of a tag write.
func (c *Client) SendRfidResult(ctx context.Context, t Target, r RfidResult) error {
	payload := map[string]any{"success": r.Success}
	if r.TagUUID != "" {
		payload["tag_uuid"] = r.TagUUID
	}
	if id, ok := numericID(r.SpoolID); ok {
		payload["spool_id"] = id
	}
	if id, ok := numericID(r.LocationID); ok {
		payload["location_id"] = id
	}
	if r.ErrorMessage != "" {
		payload["error_message"] = r.ErrorMessage
	}

	_, err := c.authPost(ctx, t, pathRfidResult, payload)
	return err
}

func (c *Client) authPost(ctx context.Context, t Target, path string, payload any) ([]byte, error) {
	if t.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	if t.Token == "" {
		return nil, ErrNotRegistered
	}
	return c.post(ctx, t.BaseURL, path, payload, func(h http.Header) {
		h.Set("Authorization", "Device "+t.Token)
	}, http.StatusOK)
}

func (c *Client) post(ctx context.Context, baseURL, path string, payload any, headers func(http.Header), okCodes ...int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", path, err)
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	headers(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	for _, code := range okCodes {
		if resp.StatusCode == code {
			return body, nil
		}
	}
	return nil, &StatusError{Endpoint: path, Code: resp.StatusCode}
}

// numericID returns id as a number when it is a positive integer.
// Inventory ids are numeric on the wire; anything else is left out.
func numericID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
