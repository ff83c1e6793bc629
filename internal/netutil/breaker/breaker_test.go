package breaker

import (
	"errors"
	"testing"

	gobreaker "github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsAfterThreeConsecutiveFailures(t *testing.T) {
	b := New("test", nil)
	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(failing)
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Execute(func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestStaysClosedOnSuccess(t *testing.T) {
	b := New("test", nil)
	for i := 0; i < 10; i++ {
		_, err := b.Execute(func() (any, error) { return "ok", nil })
		require.NoError(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestOnStateChangeCallbackFires(t *testing.T) {
	var transitions []gobreaker.State
	b := New("test", func(name string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	}

	require.NotEmpty(t, transitions)
	assert.Equal(t, gobreaker.StateOpen, transitions[len(transitions)-1])
}
