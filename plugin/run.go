package plugin

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// Result is the outcome of one plugin execution.
type Result struct {
	Plugin   string
	Value    any
	Err      error
	Duration time.Duration
}

// OK reports whether the plugin succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Run executes p and converts every way it can fail into a plugin-exception
// Result: a returned error, a panic, or a nil fragment. Timeouts keep their
// timeout code. Run never panics.
func Run(ctx context.Context, name string, p Plugin, req Request, logger *slog.Logger) (res Result) {
	if logger == nil {
		logger = slog.Default()
	}
	res.Plugin = name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Value = nil
			res.Err = errors.New(errors.ErrPluginException, errors.ErrorTransient, "plugin", "Run",
				fmt.Sprintf("%s panicked: %v", name, r))
		}
		res.Duration = time.Since(start)

		if res.Err != nil {
			logger.Warn("Plugin failed",
				"plugin", name,
				"domain", req.Domain,
				"code", errors.CodeOf(res.Err),
				"duration", res.Duration,
				"error", res.Err)
			return
		}
		logger.Debug("Plugin completed",
			"plugin", name,
			"domain", req.Domain,
			"duration", res.Duration)
	}()

	value, err := p.Analyze(ctx, req)
	switch {
	case err != nil:
		res.Err = wrapFailure(name, err)
	case value == nil:
		res.Err = errors.New(errors.ErrPluginException, errors.ErrorTransient, "plugin", "Run",
			fmt.Sprintf("%s returned no result", name))
	default:
		res.Value = value
	}
	return res
}

func wrapFailure(name string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, errors.ErrTimeout) {
		return fmt.Errorf("plugin %s: %w", name, err)
	}
	return fmt.Errorf("plugin %s: %w: %w", name, errors.ErrPluginException, err)
}
