package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/yardcraft/internal/config"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/pkg/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	imageSize     = "640x640"
	aerialZoom    = "20"
	maxImageBytes = 8 << 20
)

type GoogleParams struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	HTTPClient *http.Client        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// GoogleGateway uses Street View Static for street-level pictures and Maps
// Static satellite tiles for aerial ones.
type GoogleGateway struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	breaker    *resilience.Breaker
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewGoogleGateway(p GoogleParams) *GoogleGateway {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := p.Log.Named("imagery.google")
	return &GoogleGateway{
		baseURL: strings.TrimRight(p.Config.Maps.BaseURL, "/"),
		apiKey:  p.Config.Maps.APIKey,
		client:  client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "imagery.google",
			FailureThreshold: 5,
			FailureWindow:    10,
			OpenDelay:        30 * time.Second,
			Timeout:          20 * time.Second,
			CountsAsFailure: func(err error) bool {
				return !errors.Is(err, ErrImageryUnavailable)
			},
		}, log),
		log:        log,
		obsMetrics: p.ObsMetrics,
	}
}

func (g *GoogleGateway) Fetch(ctx context.Context, address string, perspective Perspective) (Image, error) {
	img, err := resilience.Execute(ctx, g.breaker, func(ctx context.Context) (Image, error) {
		switch perspective {
		case PerspectiveStreet:
			return g.fetchStreetView(ctx, address)
		case PerspectiveAerial:
			return g.fetchSatellite(ctx, address)
		default:
			return Image{}, fmt.Errorf("unknown perspective %q", perspective)
		}
	})
	g.obsMetrics.RecordUpstreamCall(ctx, string(perspective), outcome(err))
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return Image{}, fmt.Errorf("imagery provider unavailable: %w", err)
	}
	return img, err
}

type streetViewMetadata struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

// fetchStreetView checks the metadata endpoint first; metadata lookups are
// not billed and tell us whether a panorama exists at all.
func (g *GoogleGateway) fetchStreetView(ctx context.Context, address string) (Image, error) {
	params := url.Values{}
	params.Set("location", address)
	params.Set("source", "outdoor")
	params.Set("key", g.apiKey)

	resp, err := g.get(ctx, "/maps/api/streetview/metadata", params)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return Image{}, err
	}

	var meta streetViewMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&meta); err != nil {
		return Image{}, fmt.Errorf("decode street view metadata: %w", err)
	}
	switch meta.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return Image{}, ErrImageryUnavailable
	case "OVER_QUERY_LIMIT":
		return Image{}, ErrQuotaExceeded
	default:
		return Image{}, fmt.Errorf("street view metadata status %s: %s", meta.Status, meta.ErrorMessage)
	}

	params.Set("size", imageSize)
	params.Set("fov", "90")
	return g.fetchImage(ctx, "/maps/api/streetview", params, PerspectiveStreet)
}

func (g *GoogleGateway) fetchSatellite(ctx context.Context, address string) (Image, error) {
	params := url.Values{}
	params.Set("center", address)
	params.Set("zoom", aerialZoom)
	params.Set("size", imageSize)
	params.Set("maptype", "satellite")
	params.Set("key", g.apiKey)
	return g.fetchImage(ctx, "/maps/api/staticmap", params, PerspectiveAerial)
}

func (g *GoogleGateway) fetchImage(ctx context.Context, path string, params url.Values, perspective Perspective) (Image, error) {
	resp, err := g.get(ctx, path, params)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp); err != nil {
		return Image{}, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, fmt.Errorf("%s returned %q instead of an image", path, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return Image{}, ErrImageryUnavailable
	}
	return Image{Data: data, ContentType: contentType, Perspective: perspective}, nil
}

func (g *GoogleGateway) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

func statusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case resp.StatusCode == http.StatusNotFound:
		return ErrImageryUnavailable
	default:
		return fmt.Errorf("imagery provider returned %d", resp.StatusCode)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrImageryUnavailable):
		return "unavailable"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

var _ Gateway = (*GoogleGateway)(nil)
