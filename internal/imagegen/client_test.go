package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/imagery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *HTTPModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{Model: config.ModelConfig{Endpoint: srv.URL + "/", APIKey: "secret"}}
	return NewHTTPModel(Params{Config: cfg, Log: zap.NewNop(), HTTPClient: srv.Client()})
}

var source = imagery.Image{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg", Perspective: imagery.PerspectiveStreet}

func TestGenerateSendsPromptAndImage(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generations", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, base64.StdEncoding.EncodeToString(source.Data), body.Image)
		assert.Contains(t, body.Prompt, "xeriscape")
		assert.Contains(t, body.Prompt, "add a fire pit")

		_, _ = w.Write([]byte(`{"status":"succeeded","output_url":"https://cdn.example/out.png"}`))
	})

	res, err := m.Generate(context.Background(), GenerateInput{
		Source:       source,
		AreaType:     "front_yard",
		Style:        "xeriscape",
		Instructions: "add a fire pit",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/out.png", res.ImageURL)
}

func TestGenerateFailuresMapToModelError(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"rejected": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"failed","error":"nsfw"}`))
		},
		"garbage": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			m := newTestModel(t, handler)
			_, err := m.Generate(context.Background(), GenerateInput{Source: source, AreaType: "patio", Style: "modern"})
			assert.ErrorIs(t, err, ErrModel)
		})
	}
}

func TestGenerateRejectsEmptySource(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("model should not be called")
	})
	_, err := m.Generate(context.Background(), GenerateInput{AreaType: "patio", Style: "modern"})
	assert.ErrorIs(t, err, ErrModel)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("pool_area", "tropical", "  ")
	assert.Contains(t, p, "pool surround")
	assert.Contains(t, p, "palms")
	assert.NotContains(t, p, "Additional homeowner request")
}
