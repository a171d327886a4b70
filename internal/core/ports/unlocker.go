package ports

import "context"

// Unlocker yields the hub's private key material at process start. The key
// is loaded once into an immutable context value, never read ad hoc.
type Unlocker interface {
	GetKey(ctx context.Context) (string, error)
}
