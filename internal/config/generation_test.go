package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateGenerationPolicy(t *testing.T) {
	assert.NoError(t, validateGenerationPolicy(DefaultGenerationPolicy()))

	tooMany := DefaultGenerationPolicy()
	tooMany.MaxAreas = 6
	assert.Error(t, validateGenerationPolicy(tooMany))

	fanout := DefaultGenerationPolicy()
	fanout.MaxConcurrency = 10
	assert.Error(t, validateGenerationPolicy(fanout))

	timeouts := DefaultGenerationPolicy()
	timeouts.RequestTimeout = time.Second
	assert.Error(t, validateGenerationPolicy(timeouts))
}

func TestParsePairs(t *testing.T) {
	pairs := parsePairs(" 50=price_a, 200 = price_b ,bogus,=x")
	assert.Equal(t, map[string]string{"50": "price_a", "200": "price_b"}, pairs)
}
