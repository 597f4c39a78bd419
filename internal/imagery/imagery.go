// Package imagery fetches a source photograph of a property.
package imagery

import (
	"context"
	"errors"
)

var (
	// ErrImageryUnavailable means the provider has no usable picture of the
	// address. It says nothing about provider health.
	ErrImageryUnavailable = errors.New("imagery_unavailable")
	ErrQuotaExceeded      = errors.New("imagery_quota_exceeded")
)

type Perspective string

const (
	PerspectiveStreet Perspective = "street_view"
	PerspectiveAerial Perspective = "satellite"
)

type Image struct {
	Data        []byte
	ContentType string
	Perspective Perspective
}

//go:generate mockgen -source=imagery.go -destination=mock_imagery.go -package=imagery

// Gateway fetches imagery for an address from the given perspective.
type Gateway interface {
	Fetch(ctx context.Context, address string, perspective Perspective) (Image, error)
}
