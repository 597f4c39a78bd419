// Package imagegen calls the external landscape redesign model.
package imagegen

import (
	"context"
	"errors"

	"github.com/smallbiznis/yardcraft/internal/imagery"
)

// ErrModel wraps every model failure. The pipeline treats it as terminal for
// the area and never retries.
var ErrModel = errors.New("model_error")

type GenerateInput struct {
	Source       imagery.Image
	AreaType     string
	Style        string
	Instructions string
}

type Result struct {
	ImageURL string
}

//go:generate mockgen -source=imagegen.go -destination=mock_imagegen.go -package=imagegen

type Model interface {
	Generate(ctx context.Context, in GenerateInput) (Result, error)
}
