// Package funding decides which payment source pays for a generation.
package funding

import (
	"errors"
	"fmt"
	"strings"
	"time"

	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
)

// Source is the closed set of funding sources. The zero value is invalid.
type Source int

const (
	SourceSubscription Source = iota + 1
	SourceTrial
	SourceToken
)

func (s Source) String() string {
	switch s {
	case SourceSubscription:
		return "subscription"
	case SourceTrial:
		return "trial"
	case SourceToken:
		return "token"
	default:
		return "unknown"
	}
}

func (s Source) Valid() bool {
	switch s {
	case SourceSubscription, SourceTrial, SourceToken:
		return true
	default:
		return false
	}
}

func ParseSource(raw string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "subscription":
		return SourceSubscription, nil
	case "trial":
		return SourceTrial, nil
	case "token":
		return SourceToken, nil
	default:
		return 0, fmt.Errorf("unknown funding source %q", raw)
	}
}

// Guidance tells the caller what the customer can do after a denial.
type Guidance string

const (
	GuidanceBuyTokens       Guidance = "buy_tokens"
	GuidanceSubscribe       Guidance = "subscribe"
	GuidanceUpdatePayment   Guidance = "update_payment_method"
	GuidanceAccountInactive Guidance = "account_inactive"
	GuidanceReduceAreas     Guidance = "reduce_areas"
)

var ErrAuthorizationDenied = errors.New("authorization_denied")

// DeniedError carries why each source was rejected.
type DeniedError struct {
	Reasons  []string
	Guidance []Guidance
}

func (e *DeniedError) Error() string {
	return "authorization denied: " + strings.Join(e.Reasons, "; ")
}

func (e *DeniedError) Unwrap() error { return ErrAuthorizationDenied }

// Resolve applies the fixed priority: subscription, then trial credit, then
// purchased tokens. The first source with capacity wins; balances are not
// compared to the requested units here.
func Resolve(account accountdomain.Account, now time.Time, pastDueGrace time.Duration) (Source, error) {
	if !account.Active() {
		return 0, &DeniedError{
			Reasons:  []string{"account is deactivated"},
			Guidance: []Guidance{GuidanceAccountInactive},
		}
	}

	if subscriptionCovers(account, now, pastDueGrace) {
		return SourceSubscription, nil
	}
	if account.TrialRemaining > 0 {
		return SourceTrial, nil
	}
	if account.TokenBalance > 0 {
		return SourceToken, nil
	}

	denied := &DeniedError{Reasons: []string{"no trial credits remaining", "token balance is zero"}}
	switch account.SubscriptionStatus {
	case accountdomain.SubscriptionPastDue:
		denied.Reasons = append(denied.Reasons, "subscription payment is past due")
		denied.Guidance = []Guidance{GuidanceUpdatePayment, GuidanceBuyTokens}
	default:
		denied.Reasons = append(denied.Reasons, "no active subscription")
		denied.Guidance = []Guidance{GuidanceBuyTokens, GuidanceSubscribe}
	}
	return 0, denied
}

func subscriptionCovers(account accountdomain.Account, now time.Time, grace time.Duration) bool {
	switch account.SubscriptionStatus {
	case accountdomain.SubscriptionActive:
		return true
	case accountdomain.SubscriptionPastDue:
		if account.SubscriptionPastDueAt == nil {
			return false
		}
		return now.Before(account.SubscriptionPastDueAt.Add(grace))
	default:
		return false
	}
}
