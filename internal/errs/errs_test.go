package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalClassification(t *testing.T) {
	fatal := []*Error{
		Config(errors.New("missing field")),
		Serialization("kraken", "BTC-USD", errors.New("bad json")),
		State("BTC-USD", errors.New("invariant violated")),
	}
	for _, e := range fatal {
		assert.True(t, e.Fatal(), "%s should be fatal", e.Kind)
	}

	nonFatal := []*Error{
		Connect("kraken", "BTC-USD", errors.New("dial failed")),
		Protocol("coinbase", "ETH-USD", errors.New("bad frame")),
		RateLimit("kraken", errors.New("429")),
		Bus(errors.New("publish failed")),
	}
	for _, e := range nonFatal {
		assert.False(t, e.Fatal(), "%s should not be fatal", e.Kind)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Connect("kraken", "BTC-USD", cause)

	assert.True(t, errors.Is(err, cause))

	var target *Error
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, KindConnect, target.Kind)
	assert.Equal(t, "kraken", target.Exchange)
	assert.Equal(t, "BTC-USD", target.ProductID)
}

func TestErrorMessageIncludesContext(t *testing.T) {
	err := Protocol("kraken", "BTC-USD", errors.New("unrecognized side"))
	msg := err.Error()
	assert.Contains(t, msg, "ProtocolError")
	assert.Contains(t, msg, "kraken")
	assert.Contains(t, msg, "BTC-USD")
	assert.Contains(t, msg, "unrecognized side")
}
