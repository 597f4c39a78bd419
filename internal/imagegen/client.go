package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/yardcraft/internal/config"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/pkg/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	HTTPClient *http.Client        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// HTTPModel talks to an image-to-image inference endpoint with a JSON API.
type HTTPModel struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	breaker    *resilience.Breaker
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewHTTPModel(p Params) *HTTPModel {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	log := p.Log.Named("imagegen.http")
	return &HTTPModel{
		endpoint: strings.TrimRight(p.Config.Model.Endpoint, "/"),
		apiKey:   p.Config.Model.APIKey,
		client:   client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:             "imagegen",
			FailureThreshold: 5,
			FailureWindow:    10,
			OpenDelay:        time.Minute,
			Timeout:          40 * time.Second,
		}, log),
		log:        log,
		obsMetrics: p.ObsMetrics,
	}
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Image       string  `json:"image"`
	ImageFormat string  `json:"image_format"`
	Strength    float64 `json:"strength"`
}

type generateResponse struct {
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

func (m *HTTPModel) Generate(ctx context.Context, in GenerateInput) (Result, error) {
	if len(in.Source.Data) == 0 {
		return Result{}, fmt.Errorf("empty source image: %w", ErrModel)
	}

	body, err := json.Marshal(generateRequest{
		Prompt:      BuildPrompt(in.AreaType, in.Style, in.Instructions),
		Image:       base64.StdEncoding.EncodeToString(in.Source.Data),
		ImageFormat: in.Source.ContentType,
		Strength:    0.65,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", ErrModel)
	}

	result, err := resilience.Execute(ctx, m.breaker, func(ctx context.Context) (Result, error) {
		return m.post(ctx, body)
	})
	if err != nil {
		m.obsMetrics.RecordUpstreamCall(ctx, "imagegen", "error")
		if errors.Is(err, ErrModel) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %v", ErrModel, err)
	}
	m.obsMetrics.RecordUpstreamCall(ctx, "imagegen", "ok")
	return result, nil
}

func (m *HTTPModel) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: model returned %d", ErrModel, resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrModel, err)
	}
	if out.Status != "succeeded" || out.OutputURL == "" {
		return Result{}, fmt.Errorf("%w: status %q %s", ErrModel, out.Status, out.Error)
	}
	return Result{ImageURL: out.OutputURL}, nil
}

var _ Model = (*HTTPModel)(nil)
