// Package callz provides a type-safe orchestration engine for client-side remote calls.
//
// # Overview
//
// Every logical call (an invocation) is driven through the same fixed pipeline:
//
//	build → serialize → sign → transmit → deserialize
//
// callz owns the ordering of that pipeline, the extension points around it, two
// independent timeout scopes and a retry loop that re-runs the transmit and
// deserialize portion. Everything concrete (serialization, signing, endpoint
// resolution, the transport itself) is plugged in through small interfaces.
//
// # Core Concepts
//
// An invocation is parameterised by four types:
//
//	In   - the operation input, before serialization
//	Req  - the serialized request handed to the transport
//	Resp - the raw response returned by the transport
//	Out  - the deserialized operation output
//
// Key components:
//   - Context: the per-invocation state, a tagged union over input, request, response and outcome
//   - Interceptors: twenty ordered hook points, read-only or mutating
//   - RetryStrategy: decides whether to make the first attempt and whether to repeat
//   - Config: the explicit capability set (serializer, transport, clock, timeouts...)
//   - RuntimePlugins: client-level then operation-level contributors that fill Config
//   - Either: static two-variant composition of services, layers, plugins and computations
//
// # Quick Start
//
//	plugins := callz.NewRuntimePlugins[Input, *http.Request, *http.Response, Output]().
//	    WithClientPlugin(callz.PluginFunc[Input, *http.Request, *http.Response, Output](
//	        func(cfg *callz.Config[Input, *http.Request, *http.Response, Output], _ *callz.Interceptors[Input, *http.Request, *http.Response, Output]) error {
//	            cfg.Serializer = serializer
//	            cfg.Deserializer = deserializer
//	            cfg.Transport = transport
//	            cfg.RetryStrategy = callz.StandardRetry[Input, *http.Request, *http.Response, Output]{MaxAttempts: 3}
//	            cfg.Clock = clockz.RealClock
//	            cfg.Timeouts = callz.TimeoutConfig{Operation: 30 * time.Second, Attempt: 5 * time.Second}
//	            return nil
//	        }))
//
//	orchestrator := callz.NewOrchestrator("get-object", plugins)
//	defer orchestrator.Close()
//	out, err := orchestrator.Invoke(ctx, Input{Key: "a"})
//
// # Transport Layers
//
// Transports compose. Each layer below wraps a Service and is itself one, so
// they stack in any order and sit inside the dispatch step of every attempt:
//
//   - CircuitBreaker: stops calling a service after repeated failures
//   - RateLimiter: paces calls with a token bucket (wait or drop)
//   - Fallback: tries alternative services in order within one attempt
//   - WorkerPool: bounds concurrent calls to a service
//
// Layers hold state across invocations, so build them once per client. The
// Either type picks between two layers or services at configuration time.
// MsgpackSerializer and MsgpackDeserializer give a ready-made []byte codec.
//
// # Error Handling
//
// Every failure surfaces as *Error[Resp] carrying the phase it occurred in:
//
//	var callErr *callz.Error[*http.Response]
//	if errors.As(err, &callErr) {
//	    log.Printf("failed in %s after %d attempt(s)", callErr.Phase, callErr.Attempt)
//	    if callErr.IsTimeout() {
//	        // attempt or operation deadline
//	    }
//	}
//
// Phases are diagnostic labels. They never change retry decisions.
package callz
