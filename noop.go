package swcache

import (
	"context"
)

// NoOp is a Store stub, strategies over it degrade to network pass-through.
type NoOp struct{}

var _ Store = NoOp{}

// Read does not find anything.
func (NoOp) Read(_ context.Context, _ string) (*Response, error) {
	return nil, ErrCacheItemNotFound
}

// Write discards value.
func (NoOp) Write(_ context.Context, _ string, _ *Response) error {
	return nil
}

// Delete does nothing.
func (NoOp) Delete(_ context.Context, _ string) error {
	return nil
}

// Len is always zero.
func (NoOp) Len(_ context.Context) (int, error) {
	return 0, nil
}
