package core

import "context"

// Receiver pulls events from the platform and hands them to a Dispatcher.
type Receiver interface {
	Start(ctx context.Context) error
}
