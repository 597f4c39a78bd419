// Package context carries request-scoped correlation values used by logs and traces.
package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	accountIDKey
	actorKey
)

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, strings.TrimSpace(accountID))
}

func AccountIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(accountIDKey).(string)
	return value
}

// WithActor records who is acting: "account", "operator", "system" or "webhook".
func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: strings.TrimSpace(kind), id: strings.TrimSpace(id)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}

// Detach returns a background context that keeps the correlation values of ctx
// but none of its cancellation.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		out = WithRequestID(out, requestID)
	}
	if accountID := AccountIDFromContext(ctx); accountID != "" {
		out = WithAccountID(out, accountID)
	}
	if kind, id := ActorFromContext(ctx); kind != "" {
		out = WithActor(out, kind, id)
	}
	return out
}
