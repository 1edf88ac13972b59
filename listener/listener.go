// Package listener receives the out-of-band completion notification of an
// attempt and sets the rendezvous flag. Payloads are not validated: any
// notification on the expected channel counts.
package listener

import (
	"context"
)

// Listener is started once per process, before the first attempt.
type Listener interface {
	// Start returns once the listener is bound or subscribed and keeps
	// receiving in the background until ctx is done or Close is called.
	Start(ctx context.Context) error
	Close() error
}
