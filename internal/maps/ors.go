package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// ORSClient performs driving directions lookups against OpenRouteService.
type ORSClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewORSClient(endpoint, apiKey string) *ORSClient {
	return &ORSClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: 5 * time.Second}}
}

// Directions returns the raw route summary: metres and seconds.
func (o *ORSClient) Directions(ctx context.Context, from, to models.Coord) (meters, seconds float64, err error) {
	// ORS takes [lng, lat] pairs.
	body, _ := json.Marshal(map[string]any{
		"coordinates": [][2]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint+"/v2/directions/driving-car", bytes.NewReader(body))
	if err != nil {
		return 0, 0, errs.Wrap(errs.Upstream, err, "build directions request")
	}
	req.Header.Set("Authorization", o.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return 0, 0, errs.Wrap(errs.Upstream, err, "directions request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, errs.E(errs.Upstream, fmt.Sprintf("router returned %d", resp.StatusCode))
	}

	var out struct {
		Routes []struct {
			Summary *struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, errs.Wrap(errs.Upstream, err, "decode directions response")
	}
	if len(out.Routes) == 0 || out.Routes[0].Summary == nil {
		return 0, 0, errs.E(errs.Upstream, "no route found")
	}
	s := out.Routes[0].Summary
	return s.Distance, s.Duration, nil
}
