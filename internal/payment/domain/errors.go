package domain

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrNotConfigured    = errors.New("payment_provider_not_configured")
)
