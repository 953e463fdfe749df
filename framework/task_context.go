package framework

import "context"

type invocationKey struct{}

// InvocationKind distinguishes the two top-level entry points.
type InvocationKind string

const (
	InvocationLoop  InvocationKind = "loop"
	InvocationBatch InvocationKind = "batch"
)

// Invocation carries the identity of one top-level run through contexts so
// telemetry from the backend and the tools can be correlated with it.
type Invocation struct {
	ID          string
	Kind        InvocationKind
	Instruction string
}

// WithInvocation attaches invocation metadata to the context.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom extracts invocation metadata, if present.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	if ctx == nil {
		return Invocation{}, false
	}
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
