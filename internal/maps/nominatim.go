package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Place is one Nominatim search hit.
type Place struct {
	DisplayName string
	Coord       models.Coord
}

// NominatimClient performs free-text searches against a Nominatim server.
type NominatimClient struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func NewNominatimClient(endpoint, userAgent string) *NominatimClient {
	return &NominatimClient{Endpoint: endpoint, UserAgent: userAgent, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Search queries /search and returns at most limit places in provider order.
func (n *NominatimClient) Search(ctx context.Context, q string, limit int, details bool) ([]Place, error) {
	v := url.Values{}
	v.Set("q", q)
	v.Set("format", "json")
	v.Set("limit", strconv.Itoa(limit))
	if details {
		v.Set("addressdetails", "1")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, err, "build geocode request")
	}
	req.Header.Set("User-Agent", n.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, err, "geocode request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.E(errs.Upstream, fmt.Sprintf("geocoder returned %d", resp.StatusCode))
	}

	var out []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.Upstream, err, "decode geocode response")
	}
	places := make([]Place, 0, len(out))
	for _, o := range out {
		lat, errLat := strconv.ParseFloat(o.Lat, 64)
		lng, errLng := strconv.ParseFloat(o.Lon, 64)
		if errLat != nil || errLng != nil {
			return nil, errs.E(errs.Upstream, "geocoder returned malformed coordinates")
		}
		places = append(places, Place{DisplayName: o.DisplayName, Coord: models.Coord{Lat: lat, Lng: lng}})
	}
	return places, nil
}
