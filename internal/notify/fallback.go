package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Fallback composes a primary/secondary provider pair for one channel. It
// lets a channel migrate between transport vendors with zero caller-visible
// change: rollback is toggling which provider is primary.
type Fallback struct {
	channel   Channel
	primary   Provider
	secondary Provider
	logger    *zap.Logger
}

// NewFallback creates a fallback decorator over two providers of the same
// channel capability.
func NewFallback(channel Channel, primary, secondary Provider, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{channel: channel, primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Name() string {
	return fmt.Sprintf("fallback-%s(%s,%s)", f.channel, f.primary.Name(), f.secondary.Name())
}

// Available reports true if either provider is available.
func (f *Fallback) Available() bool {
	return f.primary.Available() || f.secondary.Available()
}

// Send tries the primary when available and returns immediately on success;
// a provider-reported failure falls through to the secondary. An
// unavailable primary is skipped outright. With neither provider available
// the result is a deterministic failure, never a panic.
func (f *Fallback) Send(ctx context.Context, p SendParams) *Result {
	var primaryResult *Result

	if f.primary.Available() {
		primaryResult = f.primary.Send(ctx, p)
		if primaryResult.OK {
			return primaryResult
		}
		f.logger.Warn("primary provider failed, trying secondary",
			zap.String("channel", string(f.channel)),
			zap.String("primary", f.primary.Name()),
			zap.String("error", primaryResult.Error),
		)
	}

	if f.secondary.Available() {
		result := f.secondary.Send(ctx, p)
		if result.Metadata == nil {
			result.Metadata = map[string]string{}
		}
		result.Metadata["fallback"] = "true"
		return result
	}

	if primaryResult != nil {
		return primaryResult
	}
	return Failure(f.Name(), fmt.Errorf("no %s provider available", f.channel))
}
