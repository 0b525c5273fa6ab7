// Package geocode resolves coordinates into a human-readable address for
// the photo watermark. Lookups are best-effort: any failure is returned to
// the caller, which falls back to raw coordinates and never blocks capture.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://nominatim.openstreetmap.org"
	requestTimeout  = 10 * time.Second
	userAgent       = "erp-tauri-sub000/1.0"
)

// Client is a reverse-geocoding client backed by the Nominatim API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client against the public Nominatim endpoint.
func NewClient() *Client {
	return NewClientWithEndpoint(defaultEndpoint)
}

// NewClientWithEndpoint creates a client against a custom endpoint (tests).
func NewClientWithEndpoint(endpoint string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// osmAddress is the subset of Nominatim address components this pipeline
// formats into a "street, ward, district, city" line.
type osmAddress struct {
	HouseNumber  string `json:"house_number"`
	Road         string `json:"road"`
	Suburb       string `json:"suburb"`
	Village      string `json:"village"`
	Quarter      string `json:"quarter"`
	CityDistrict string `json:"city_district"`
	District     string `json:"district"`
	City         string `json:"city"`
	State        string `json:"state"`
}

type osmResponse struct {
	Address osmAddress `json:"address"`
}

// Reverse resolves lat/lon into a formatted address string. Returns an
// error when the lookup fails or yields no usable components.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	url := fmt.Sprintf("%s/reverse?format=json&lat=%f&lon=%f&zoom=18&addressdetails=1",
		c.endpoint, lat, lon)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode failed: %s", resp.Status)
	}

	var body osmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	addr := formatAddress(body.Address)
	if addr == "" {
		return "", fmt.Errorf("no usable address components")
	}
	return addr, nil
}

var (
	districtPrefix = regexp.MustCompile(`^[Qq]uận\s*`)
	countyPrefix   = regexp.MustCompile(`^[Hh]uyện\s*`)
)

// formatAddress builds the locale-appropriate "street, ward, district,
// city" line from Nominatim components. District and city prefixes are
// shortened the Vietnamese way (Quận -> Q., Huyện -> H., TP. for cities).
func formatAddress(a osmAddress) string {
	var parts []string

	switch {
	case a.HouseNumber != "" && a.Road != "":
		parts = append(parts, a.HouseNumber+" "+a.Road)
	case a.Road != "":
		parts = append(parts, a.Road)
	}

	switch {
	case a.Suburb != "":
		parts = append(parts, a.Suburb)
	case a.Village != "":
		parts = append(parts, a.Village)
	case a.Quarter != "":
		parts = append(parts, a.Quarter)
	}

	switch {
	case a.CityDistrict != "":
		d := a.CityDistrict
		lower := strings.ToLower(d)
		switch {
		case strings.Contains(lower, "quận"):
			parts = append(parts, "Q. "+districtPrefix.ReplaceAllString(d, ""))
		case strings.Contains(lower, "huyện"):
			parts = append(parts, "H. "+countyPrefix.ReplaceAllString(d, ""))
		default:
			parts = append(parts, d)
		}
	case a.District != "":
		parts = append(parts, a.District)
	}

	switch {
	case a.City != "":
		if strings.Contains(strings.ToLower(a.City), "thành phố") {
			parts = append(parts, a.City)
		} else {
			parts = append(parts, "TP. "+a.City)
		}
	case a.State != "":
		parts = append(parts, a.State)
	}

	return strings.Join(parts, ", ")
}
