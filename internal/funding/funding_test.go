package funding

import (
	"errors"
	"testing"
	"time"

	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestResolvePriority(t *testing.T) {
	pastDue := now.Add(-24 * time.Hour)
	expired := now.Add(-96 * time.Hour)

	cases := []struct {
		name    string
		account accountdomain.Account
		want    Source
	}{
		{
			name: "active subscription beats trial and tokens",
			account: accountdomain.Account{
				SubscriptionStatus: accountdomain.SubscriptionActive,
				TrialRemaining:     2,
				TokenBalance:       50,
			},
			want: SourceSubscription,
		},
		{
			name: "past due within grace still covered",
			account: accountdomain.Account{
				SubscriptionStatus:    accountdomain.SubscriptionPastDue,
				SubscriptionPastDueAt: &pastDue,
				TokenBalance:          1,
			},
			want: SourceSubscription,
		},
		{
			name: "past due beyond grace falls through to tokens",
			account: accountdomain.Account{
				SubscriptionStatus:    accountdomain.SubscriptionPastDue,
				SubscriptionPastDueAt: &expired,
				TokenBalance:          1,
			},
			want: SourceToken,
		},
		{
			name: "trial beats tokens",
			account: accountdomain.Account{
				SubscriptionStatus: accountdomain.SubscriptionCancelled,
				TrialRemaining:     1,
				TokenBalance:       10,
			},
			want: SourceTrial,
		},
		{
			name:    "tokens when nothing else",
			account: accountdomain.Account{SubscriptionStatus: accountdomain.SubscriptionInactive, TokenBalance: 3},
			want:    SourceToken,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.account, now, 72*time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveDeniedCarriesGuidance(t *testing.T) {
	_, err := Resolve(accountdomain.Account{SubscriptionStatus: accountdomain.SubscriptionInactive}, now, 72*time.Hour)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAuthorizationDenied))

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, []Guidance{GuidanceBuyTokens, GuidanceSubscribe}, denied.Guidance)
}

func TestResolveDeactivatedAccount(t *testing.T) {
	deactivated := now.Add(-time.Hour)
	_, err := Resolve(accountdomain.Account{
		SubscriptionStatus: accountdomain.SubscriptionActive,
		DeactivatedAt:      &deactivated,
	}, now, 72*time.Hour)

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, []Guidance{GuidanceAccountInactive}, denied.Guidance)
}

func TestParseSourceRoundTrip(t *testing.T) {
	for _, s := range []Source{SourceSubscription, SourceTrial, SourceToken} {
		parsed, err := ParseSource(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSource("card")
	assert.Error(t, err)
}
