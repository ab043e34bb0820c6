// Package routecache resolves callsigns to flight routes through the
// adsbdb.com API, with a database-backed cache so each callsign is looked
// up at most once per staleness window.
package routecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.adsbdb.com/v0"

// Airport is one endpoint of a resolved route.
type Airport struct {
	IATA    string  `json:"iata"`
	ICAO    string  `json:"icao"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Route is a resolved origin/destination pair.
type Route struct {
	Origin      Airport
	Destination Airport
}

// Lookup resolves a callsign to a route. A nil route with a nil error means
// the provider confirmed it knows no route for this callsign; an error
// means the provider was unavailable and nothing was confirmed.
type Lookup interface {
	Route(ctx context.Context, callsign string) (*Route, error)
}

// Client queries the adsbdb.com callsign endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an adsbdb API client.
func NewClient() *Client {
	return &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// NewClientWithBase creates a client against an alternate base URL, for
// tests and self-hosted mirrors.
func NewClientWithBase(baseURL string) *Client {
	c := NewClient()
	c.baseURL = baseURL
	return c
}

type adsbdbAirport struct {
	IATACode    string  `json:"iata_code"`
	ICAOCode    string  `json:"icao_code"`
	Name        string  `json:"name"`
	CountryName string  `json:"country_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

type adsbdbResponse struct {
	Response struct {
		FlightRoute *struct {
			Callsign    string         `json:"callsign"`
			Origin      *adsbdbAirport `json:"origin"`
			Destination *adsbdbAirport `json:"destination"`
		} `json:"flightroute"`
	} `json:"response"`
}

// Route implements Lookup against adsbdb.com. A 404 is a confirmed
// "no route known" and returns (nil, nil).
func (c *Client) Route(ctx context.Context, callsign string) (*Route, error) {
	url := fmt.Sprintf("%s/callsign/%s", c.baseURL, callsign)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adsbdb request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adsbdb status %d for %s", resp.StatusCode, callsign)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read adsbdb response: %w", err)
	}

	var decoded adsbdbResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		// The API answers non-route lookups with a plain string in the
		// response field, which fails to decode into the struct.
		return nil, nil
	}

	fr := decoded.Response.FlightRoute
	if fr == nil || fr.Origin == nil || fr.Destination == nil {
		return nil, nil
	}

	return &Route{
		Origin:      convertAirport(fr.Origin),
		Destination: convertAirport(fr.Destination),
	}, nil
}

func convertAirport(a *adsbdbAirport) Airport {
	return Airport{
		IATA:    a.IATACode,
		ICAO:    a.ICAOCode,
		Name:    a.Name,
		Country: a.CountryName,
		Lat:     a.Latitude,
		Lon:     a.Longitude,
	}
}
