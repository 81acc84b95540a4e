package store

import "context"

// StateStore persists user settings as string key/value pairs.
type StateStore interface {
	// GetState returns the value and whether the key is set.
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// Setting is one stored key/value pair.
type Setting struct {
	Key   string
	Value string
}
