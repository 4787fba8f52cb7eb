package callz

import "context"

// Either holds exactly one of two values. The variant is fixed at
// construction and every operation delegates to the held value, so two
// differently typed implementations of a capability can be selected at
// runtime without boxing them behind a common interface value.
//
// Example:
//
//	var transport callz.Either[*HTTPTransport, *MockTransport]
//	if cfg.Offline {
//	    transport = callz.Right[*HTTPTransport](mock)
//	} else {
//	    transport = callz.Left[*HTTPTransport, *MockTransport](httpTransport)
//	}
//	cfg.Transport = callz.ServiceEither[*Request, *Response](transport)
type Either[L, R any] struct {
	left   L
	right  R
	isLeft bool
}

// Left creates an Either holding the left variant.
func Left[L, R any](v L) Either[L, R] {
	return Either[L, R]{left: v, isLeft: true}
}

// Right creates an Either holding the right variant.
func Right[L, R any](v R) Either[L, R] {
	return Either[L, R]{right: v}
}

// IsLeft reports whether the left variant is held.
func (e Either[L, R]) IsLeft() bool {
	return e.isLeft
}

// Left returns the left value if held.
func (e Either[L, R]) Left() (L, bool) {
	return e.left, e.isLeft
}

// Right returns the right value if held.
func (e Either[L, R]) Right() (R, bool) {
	return e.right, !e.isLeft
}

// Fold reduces e with the function matching its variant.
func Fold[L, R, T any](e Either[L, R], onLeft func(L) T, onRight func(R) T) T {
	if e.isLeft {
		return onLeft(e.left)
	}
	return onRight(e.right)
}

// MapEither transforms the held value, keeping the variant.
func MapEither[L, R, L2, R2 any](e Either[L, R], onLeft func(L) L2, onRight func(R) R2) Either[L2, R2] {
	if e.isLeft {
		return Left[L2, R2](onLeft(e.left))
	}
	return Right[L2](onRight(e.right))
}

// EitherService is a Service backed by one of two services with the same
// request and response types. It can be used directly as a Transport.
type EitherService[Req, Resp any, L Service[Req, Resp], R Service[Req, Resp]] struct {
	Either[L, R]
}

// ServiceEither wraps e as a Service. Req and Resp must be given explicitly;
// L and R are inferred.
func ServiceEither[Req, Resp any, L Service[Req, Resp], R Service[Req, Resp]](e Either[L, R]) EitherService[Req, Resp, L, R] {
	return EitherService[Req, Resp, L, R]{Either: e}
}

// Call implements Service by delegating to the held service.
func (s EitherService[Req, Resp, L, R]) Call(ctx context.Context, req Req) (Resp, error) {
	if l, ok := s.Either.Left(); ok {
		return l.Call(ctx, req)
	}
	r, _ := s.Either.Right()
	return r.Call(ctx, req)
}

// Layer wraps an inner value, typically a Service, producing a new one.
type Layer[S, W any] interface {
	Layer(inner S) W
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc[S, W any] func(S) W

// Layer implements Layer.
func (f LayerFunc[S, W]) Layer(inner S) W {
	return f(inner)
}

// EitherLayer applies one of two layers. The result keeps both possible
// output types: applying it yields Either[LW, RW], never a collapsed type.
type EitherLayer[S, LW, RW any, L Layer[S, LW], R Layer[S, RW]] struct {
	Either[L, R]
}

// LayerEither wraps e as a Layer over S. S, LW and RW must be given
// explicitly.
func LayerEither[S, LW, RW any, L Layer[S, LW], R Layer[S, RW]](e Either[L, R]) EitherLayer[S, LW, RW, L, R] {
	return EitherLayer[S, LW, RW, L, R]{Either: e}
}

// Layer implements Layer by applying the held layer to inner.
func (l EitherLayer[S, LW, RW, L, R]) Layer(inner S) Either[LW, RW] {
	if left, ok := l.Either.Left(); ok {
		return Left[LW, RW](left.Layer(inner))
	}
	right, _ := l.Either.Right()
	return Right[LW](right.Layer(inner))
}

// EitherPlugin is a RuntimePlugin backed by one of two plugins.
type EitherPlugin[In, Req, Resp, Out any, L RuntimePlugin[In, Req, Resp, Out], R RuntimePlugin[In, Req, Resp, Out]] struct {
	Either[L, R]
}

// PluginEither wraps e as a RuntimePlugin.
func PluginEither[In, Req, Resp, Out any, L RuntimePlugin[In, Req, Resp, Out], R RuntimePlugin[In, Req, Resp, Out]](e Either[L, R]) EitherPlugin[In, Req, Resp, Out, L, R] {
	return EitherPlugin[In, Req, Resp, Out, L, R]{Either: e}
}

// Configure implements RuntimePlugin by delegating to the held plugin.
func (p EitherPlugin[In, Req, Resp, Out, L, R]) Configure(cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) error {
	if l, ok := p.Either.Left(); ok {
		return l.Configure(cfg, interceptors)
	}
	r, _ := p.Either.Right()
	return r.Configure(cfg, interceptors)
}

// RunEither runs whichever computation e holds.
func RunEither[T any, L ~func(context.Context) (T, error), R ~func(context.Context) (T, error)](ctx context.Context, e Either[L, R]) (T, error) {
	if l, ok := e.Left(); ok {
		return l(ctx)
	}
	r, _ := e.Right()
	return r(ctx)
}
