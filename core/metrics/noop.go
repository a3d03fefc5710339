package metrics

import (
	"context"
	"time"
)

// Noop is a Recorder that does nothing.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordPoll(_ context.Context, _ string, _ time.Duration)             {}
func (Noop) RecordRecovery(_ context.Context, _ string)                          {}
func (Noop) RecordHandler(_ context.Context, _ string, _ time.Duration, _ error) {}
func (Noop) RecordDropped(_ context.Context, _ string)                           {}
