package callz

import "context"

// Name is a type alias for orchestrator, interceptor and plugin names.
type Name = string

// Cloner is implemented by request types that can produce an independent copy.
// When Req implements Cloner[Req], every attempt receives a fresh clone of the
// serialized request instead of sharing the value the transport consumed.
type Cloner[T any] interface {
	Clone() T
}

// Service handles one request and produces one response.
// Transports are services; so are the values wrapped by EitherService.
type Service[Req, Resp any] interface {
	Call(context.Context, Req) (Resp, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc[Req, Resp any] func(context.Context, Req) (Resp, error)

// Call implements Service.
func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Transport sends a serialized request and returns the raw response.
// The transport takes ownership of the request for the duration of the call.
type Transport[Req, Resp any] interface {
	Service[Req, Resp]
}

// Serializer turns an operation input into a transmittable request.
type Serializer[In, Req any] interface {
	Serialize(context.Context, In) (Req, error)
}

// SerializerFunc adapts a function to the Serializer interface.
type SerializerFunc[In, Req any] func(context.Context, In) (Req, error)

// Serialize implements Serializer.
func (f SerializerFunc[In, Req]) Serialize(ctx context.Context, in In) (Req, error) {
	return f(ctx, in)
}

// Deserializer turns a raw response into an operation output.
//
// DeserializeStreaming is tried first. It returns handled=false when the full
// body must be read before deserialization; the orchestrator then reads the
// body (see BodyReader) and calls Deserialize.
//
// An error from either method is the attempt's modeled outcome: it is stored
// on the Context and the remaining hooks of the attempt still run.
type Deserializer[Resp, Out any] interface {
	DeserializeStreaming(ctx context.Context, resp Resp) (out Out, handled bool, err error)
	Deserialize(ctx context.Context, resp Resp) (Out, error)
}

// DeserializerFunc adapts a function to the Deserializer interface.
// It never takes the streaming path.
type DeserializerFunc[Resp, Out any] func(context.Context, Resp) (Out, error)

// DeserializeStreaming implements Deserializer.
func (DeserializerFunc[Resp, Out]) DeserializeStreaming(context.Context, Resp) (Out, bool, error) {
	var zero Out
	return zero, false, nil
}

// Deserialize implements Deserializer.
func (f DeserializerFunc[Resp, Out]) Deserialize(ctx context.Context, resp Resp) (Out, error) {
	return f(ctx, resp)
}

// BodyReader fully reads a response body before non-streaming deserialization.
// It is taken from Config.BodyReader, or from the Deserializer when it
// implements BodyReader itself.
type BodyReader[Resp any] interface {
	ReadBody(context.Context, Resp) (Resp, error)
}

// EndpointResolver rewrites a request so that it targets a concrete endpoint.
type EndpointResolver[Req any] interface {
	ResolveEndpoint(context.Context, Req) (Req, error)
}

// EndpointResolverFunc adapts a function to the EndpointResolver interface.
type EndpointResolverFunc[Req any] func(context.Context, Req) (Req, error)

// ResolveEndpoint implements EndpointResolver.
func (f EndpointResolverFunc[Req]) ResolveEndpoint(ctx context.Context, req Req) (Req, error) {
	return f(ctx, req)
}

// Signer authenticates a request. It may block, for example while refreshing
// credentials.
type Signer[Req any] interface {
	Sign(context.Context, Req) (Req, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc[Req any] func(context.Context, Req) (Req, error)

// Sign implements Signer.
func (f SignerFunc[Req]) Sign(ctx context.Context, req Req) (Req, error) {
	return f(ctx, req)
}
