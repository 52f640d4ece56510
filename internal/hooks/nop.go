// Package hooks provides default Hooks implementations.
package hooks

import (
	"context"

	"github.com/arloliu/helmsman/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, bool) error                     = (*NopHooks)(nil).OnLeadershipChanged
	_ func(context.Context, string, string, string) error   = (*NopHooks)(nil).OnTransition
	_ func(context.Context, error) error                    = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged:      h.OnStateChanged,
		OnLeadershipChanged: h.OnLeadershipChanged,
		OnTransition:        h.OnTransition,
		OnError:             h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced with a no-op.
//
// Parameters:
//   - h: User-supplied hooks, may be nil
//
// Returns:
//   - types.Hooks: Hooks safe to call without nil checks
func Fill(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnStateChanged != nil {
		out.OnStateChanged = h.OnStateChanged
	}
	if h.OnLeadershipChanged != nil {
		out.OnLeadershipChanged = h.OnLeadershipChanged
	}
	if h.OnTransition != nil {
		out.OnTransition = h.OnTransition
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(ctx context.Context, from, to types.State) error {
	return nil
}

// OnLeadershipChanged is a no-op implementation.
func (h *NopHooks) OnLeadershipChanged(ctx context.Context, leader bool) error {
	return nil
}

// OnTransition is a no-op implementation.
func (h *NopHooks) OnTransition(ctx context.Context, entity, from, to string) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
