package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/yardcraft/internal/config"
)

const keySubmission = "generation:submit:%s"

// SubmissionLimiter throttles generation submissions per account. Rate and
// burst are read from the live policy on every call.
type SubmissionLimiter struct {
	bucket *TokenBucket
	policy *config.GenerationPolicyHolder
}

func NewSubmissionLimiter(bucket *TokenBucket, policy *config.GenerationPolicyHolder) *SubmissionLimiter {
	return &SubmissionLimiter{bucket: bucket, policy: policy}
}

func (l *SubmissionLimiter) Enabled() bool {
	if l == nil || l.bucket == nil || l.policy == nil {
		return false
	}
	policy := l.policy.Get()
	return policy.SubmitRate > 0 && policy.SubmitBurst > 0
}

func (l *SubmissionLimiter) Allow(ctx context.Context, accountID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	policy := l.policy.Get()
	key := fmt.Sprintf(keySubmission, strings.TrimSpace(accountID))
	return l.bucket.Allow(ctx, key, policy.SubmitRate, policy.SubmitBurst)
}
