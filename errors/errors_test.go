package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"invalid domain", ErrInvalidDomain, CodeInvalidDomain},
		{"invalid entity", New(ErrInvalidEntityID, ErrorInvalid, "Pipeline", "Execute", "-1"), CodeInvalidEntityID},
		{"wrapped scope", fmt.Errorf("outer: %w", ErrInvalidScope), CodeInvalidScope},
		{"no plugins", ErrNoPluginsAvailable, CodeNoPluginsAvailable},
		{"plugin not found", ErrPluginNotFound, CodePluginNotFound},
		{"contract", ErrMissingPluginContract, CodeMissingPluginContract},
		{"info", ErrPluginInfo, CodePluginInfoException},
		{"exception", WrapTransient(ErrPluginException, "Plugin", "Run", "analyze"), CodePluginException},
		{"gathering", ErrDataGathering, CodeDataGatheringFailed},
		{"timeout", ErrTimeout, CodeTimeout},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), CodeTimeout},
		{"not found", ErrEntityNotFound, CodeNotFound},
		{"unknown", stderrors.New("boom"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestNew_MatchesSentinel(t *testing.T) {
	err := New(ErrPluginNotFound, ErrorInvalid, "Pipeline", "resolve", "ghost")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPluginNotFound)
	assert.Equal(t, "Pipeline.resolve: plugin not found: ghost", err.Error())
	assert.True(t, IsInvalid(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Pipeline", ce.Component)
	assert.Equal(t, "resolve", ce.Operation)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"circuit open", ErrCircuitOpen, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidDomain))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionTimeout))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(stderrors.New("x"), "C", "M", "a")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "C", "M", "a"))
	assert.Nil(t, WrapInvalid(nil, "C", "M", "a"))

	base := stderrors.New("disk gone")
	err := Wrap(base, "Gatherer", "FetchStats", "query")
	assert.Equal(t, "Gatherer.FetchStats: query failed: disk gone", err.Error())
	assert.ErrorIs(t, err, base)
}

func TestRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrConnectionTimeout, 0))
	assert.False(t, cfg.ShouldRetry(ErrInvalidData, 0))
	assert.False(t, cfg.ShouldRetry(ErrConnectionTimeout, cfg.MaxRetries))

	rc := cfg.ToRetryConfig()
	assert.Equal(t, cfg.MaxRetries+1, rc.MaxAttempts)
	assert.Equal(t, cfg.InitialDelay, rc.InitialDelay)
	assert.True(t, rc.AddJitter)
}
