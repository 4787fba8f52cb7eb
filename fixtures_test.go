package callz

import (
	"context"
	"strings"
	"sync"
)

// String-typed pipeline used across tests.
type (
	testContext      = Context[string, string, string, string]
	testView         = View[string, string, string, string]
	testConfig       = Config[string, string, string, string]
	testInterceptors = Interceptors[string, string, string, string]
	testPlugins      = RuntimePlugins[string, string, string, string]
	testPlugin       = PluginFunc[string, string, string, string]
	testStrategy     = RetryStrategyFunc[string, string, string, string]
)

// scriptTransport counts calls and delegates each one to fn.
type scriptTransport struct {
	fn       func(ctx context.Context, call int, req string) (string, error)
	requests []string
	calls    int
	mu       sync.Mutex
}

func newScriptTransport(fn func(ctx context.Context, call int, req string) (string, error)) *scriptTransport {
	return &scriptTransport{fn: fn}
}

func echoTransport() *scriptTransport {
	return newScriptTransport(func(_ context.Context, _ int, req string) (string, error) {
		return "resp:" + req, nil
	})
}

func (s *scriptTransport) Call(ctx context.Context, req string) (string, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.fn(ctx, n, req)
}

func (s *scriptTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptTransport) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

var (
	identitySerializer = SerializerFunc[string, string](func(_ context.Context, in string) (string, error) {
		return in, nil
	})
	trimDeserializer = DeserializerFunc[string, string](func(_ context.Context, resp string) (string, error) {
		return strings.TrimPrefix(resp, "resp:"), nil
	})
)

// retryOnError retries failed attempts until maxAttempts.
func retryOnError(maxAttempts int) testStrategy {
	return testStrategy{
		Retry: func(_ context.Context, v testView, _ *testConfig) (ShouldAttempt, error) {
			if v.OutcomeErr() != nil && v.Attempt() < maxAttempts {
				return Yes(), nil
			}
			return No(), nil
		},
	}
}

// resend hands req to the attempt following a failed one. String requests
// cannot be cloned, so retries need it.
func resend(req string) func(*testConfig, *testInterceptors) error {
	return func(_ *testConfig, ic *testInterceptors) error {
		ic.Register(ModifyHook("resend", ModifyBeforeAttemptCompletion, func(_ context.Context, c *testContext) error {
			if c.OutcomeErr() != nil {
				c.SetRetryRequest(req)
			}
			return nil
		}))
		return nil
	}
}

// basePlugins configures every required capability, then applies extra as
// further client plugins.
func basePlugins(transport Transport[string, string], strategy RetryStrategy[string, string, string, string], extra ...func(*testConfig, *testInterceptors) error) *testPlugins {
	plugins := NewRuntimePlugins[string, string, string, string]().
		WithClientPlugin(testPlugin(func(cfg *testConfig, _ *testInterceptors) error {
			cfg.Serializer = identitySerializer
			cfg.Deserializer = trimDeserializer
			cfg.Transport = transport
			cfg.RetryStrategy = strategy
			return nil
		}))
	for _, fn := range extra {
		plugins.WithClientPlugin(testPlugin(fn))
	}
	return plugins
}

// hookRecorder records the hook points it observes.
type hookRecorder struct {
	points []HookPoint
	mu     sync.Mutex
}

func (r *hookRecorder) interceptor() Interceptor[string, string, string, string] {
	return Observe("recorder", func(_ context.Context, p HookPoint, _ testView) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.points = append(r.points, p)
		return nil
	})
}

func (r *hookRecorder) Points() []HookPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HookPoint(nil), r.points...)
}
