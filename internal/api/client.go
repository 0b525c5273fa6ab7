// Package api implements the HR backend REST client used by the capture
// worker and the sync engine: file upload, async check-in/check-out event
// submission, event photo attachment and the read-side today endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// Config is the connection configuration handed to the worker alongside a
// capture job: base URL, auth token and tenant/user/employee headers.
type Config struct {
	BaseURL    string
	Token      string
	CompanyID  string
	UserID     string
	EmployeeID string
}

// Client is a thin REST client over the HR backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client. The HTTP timeout bounds every call; a hung
// request simply leaves the affected record pending for the next sync pass.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.CompanyID != "" {
		req.Header.Set("x-company-id", c.cfg.CompanyID)
	}
	if c.cfg.UserID != "" {
		req.Header.Set("X-User-ID", c.cfg.UserID)
	}
	if c.cfg.EmployeeID != "" {
		req.Header.Set("X-Employee-ID", c.cfg.EmployeeID)
	}
}

// UploadFile posts data as a multipart "file" field to the files-upload
// endpoint and returns the server-assigned file identifier.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v3/files/upload", &body)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload failed: %s", resp.Status)
	}

	var result struct {
		Fid string `json:"fid"`
		ID  string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("upload response decode failed: %w", err)
	}
	// Some deployments return the identifier as fid, others as id.
	if result.Fid != "" {
		return result.Fid, nil
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload response carried no file id")
	}
	return result.ID, nil
}

// EventRequest is the payload of the async check-in/check-out endpoints.
// ClientRequestID carries the local record id so a retried submission after
// a lost response stays idempotent on the server side.
type EventRequest struct {
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	PhotoID         string   `json:"photoId,omitempty"`
	EventTime       string   `json:"eventTime"` // ISO8601
	ClientRequestID string   `json:"clientRequestId,omitempty"`
}

// EventResponse is the subset of the async event response this pipeline
// reads. PendingApproval with a nearest known location feeds a separate
// GPS-registration flow.
type EventResponse struct {
	EventID         string `json:"eventId"`
	PendingApproval bool   `json:"pendingApproval,omitempty"`
	NearestLocation string `json:"nearestLocation,omitempty"`
}

// CheckInAsync submits a check-in event.
func (c *Client) CheckInAsync(ctx context.Context, req EventRequest) (*EventResponse, error) {
	return c.submitEvent(ctx, "/api/v3/attendance/checkin-async", req)
}

// CheckOutAsync submits a check-out event.
func (c *Client) CheckOutAsync(ctx context.Context, req EventRequest) (*EventResponse, error) {
	return c.submitEvent(ctx, "/api/v3/attendance/checkout-async", req)
}

// SubmitEvent routes an event of the given type to its async endpoint.
func (c *Client) SubmitEvent(ctx context.Context, typ models.EventType, req EventRequest) (*EventResponse, error) {
	switch typ {
	case models.EventCheckIn, models.EventResume:
		return c.CheckInAsync(ctx, req)
	case models.EventCheckOut, models.EventPause:
		return c.CheckOutAsync(ctx, req)
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
}

func (c *Client) submitEvent(ctx context.Context, path string, payload EventRequest) (*EventResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("event submission failed: %s: %s", resp.Status, string(msg))
	}

	var result EventResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("event response decode failed: %w", err)
	}
	return &result, nil
}

// AttachEventPhoto attaches an already-uploaded photo to a server event.
// The primary path is tried first; the documented fallback path is tried
// only when the primary answers 404 — any other failure is final, so real
// errors are not masked by a second request.
func (c *Client) AttachEventPhoto(ctx context.Context, eventID, photoID string) error {
	primary := fmt.Sprintf("%s/api/v3/attendance/events/%s/photo", c.cfg.BaseURL, eventID)
	status, err := c.postPhotoID(ctx, primary, photoID)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("photo attach failed: status %d", status)
	}

	fallback := fmt.Sprintf("%s/api/v3/events/%s/photo", c.cfg.BaseURL, eventID)
	status, err = c.postPhotoID(ctx, fallback, photoID)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("photo attach failed on fallback path: status %d", status)
	}
	return nil
}

func (c *Client) postPhotoID(ctx context.Context, url, photoID string) (int, error) {
	body, err := json.Marshal(map[string]string{"photoId": photoID})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Today fetches the read-side today payload used to derive the server's
// view of the current work status.
func (c *Client) Today(ctx context.Context) (*models.TodayAttendance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v3/attendance/today", nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("today fetch failed: %s", resp.Status)
	}

	var result models.TodayAttendance
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("today response decode failed: %w", err)
	}
	return &result, nil
}
