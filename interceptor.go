package callz

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// HookPoint identifies one extension point of the pipeline.
// Points are declared in the order they fire.
type HookPoint uint8

const (
	ClientReadBeforeExecution HookPoint = iota
	OperationReadBeforeExecution
	ReadBeforeSerialization
	ModifyBeforeSerialization
	ReadAfterSerialization
	ModifyBeforeRetryLoop
	ReadBeforeAttempt
	ModifyBeforeSigning
	ReadBeforeSigning
	ReadAfterSigning
	ModifyBeforeTransmit
	ReadBeforeTransmit
	ReadAfterTransmit
	ModifyBeforeDeserialization
	ReadBeforeDeserialization
	ReadAfterDeserialization
	ReadAfterAttempt
	ModifyBeforeAttemptCompletion
	ModifyBeforeCompletion
	ReadAfterExecution
)

var hookPointNames = [...]string{
	ClientReadBeforeExecution:     "client_read_before_execution",
	OperationReadBeforeExecution:  "operation_read_before_execution",
	ReadBeforeSerialization:       "read_before_serialization",
	ModifyBeforeSerialization:     "modify_before_serialization",
	ReadAfterSerialization:        "read_after_serialization",
	ModifyBeforeRetryLoop:         "modify_before_retry_loop",
	ReadBeforeAttempt:             "read_before_attempt",
	ModifyBeforeSigning:           "modify_before_signing",
	ReadBeforeSigning:             "read_before_signing",
	ReadAfterSigning:              "read_after_signing",
	ModifyBeforeTransmit:          "modify_before_transmit",
	ReadBeforeTransmit:            "read_before_transmit",
	ReadAfterTransmit:             "read_after_transmit",
	ModifyBeforeDeserialization:   "modify_before_deserialization",
	ReadBeforeDeserialization:     "read_before_deserialization",
	ReadAfterDeserialization:      "read_after_deserialization",
	ReadAfterAttempt:              "read_after_attempt",
	ModifyBeforeAttemptCompletion: "modify_before_attempt_completion",
	ModifyBeforeCompletion:        "modify_before_completion",
	ReadAfterExecution:            "read_after_execution",
}

func (p HookPoint) String() string {
	if int(p) < len(hookPointNames) {
		return hookPointNames[p]
	}
	return fmt.Sprintf("hook(%d)", uint8(p))
}

// Mutating reports whether hooks at this point may rewrite the Context.
func (p HookPoint) Mutating() bool {
	switch p {
	case ModifyBeforeSerialization, ModifyBeforeRetryLoop, ModifyBeforeSigning,
		ModifyBeforeTransmit, ModifyBeforeDeserialization,
		ModifyBeforeAttemptCompletion, ModifyBeforeCompletion:
		return true
	default:
		return false
	}
}

// HookPoints returns every hook point in firing order.
func HookPoints() []HookPoint {
	points := make([]HookPoint, len(hookPointNames))
	for i := range points {
		points[i] = HookPoint(i)
	}
	return points
}

// Interceptor observes or rewrites an invocation at each hook point.
//
// Read methods receive a View and must not mutate it. Modify methods receive
// the Context itself. Returning an error aborts the invocation at that point.
// The Config is shared with the orchestrator and must be treated as read-only.
//
// Embed BaseInterceptor to implement only the points you care about.
type Interceptor[In, Req, Resp, Out any] interface {
	Name() Name

	ClientReadBeforeExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	OperationReadBeforeExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadBeforeSerialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeSerialization(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterSerialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeRetryLoop(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadBeforeAttempt(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeSigning(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadBeforeSigning(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterSigning(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeTransmit(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadBeforeTransmit(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterTransmit(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeDeserialization(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadBeforeDeserialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterDeserialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterAttempt(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeAttemptCompletion(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ModifyBeforeCompletion(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	ReadAfterExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
}

// BaseInterceptor implements every hook as a no-op. Types embedding it still
// provide their own Name.
type BaseInterceptor[In, Req, Resp, Out any] struct{}

func (BaseInterceptor[In, Req, Resp, Out]) ClientReadBeforeExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) OperationReadBeforeExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadBeforeSerialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeSerialization(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterSerialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeRetryLoop(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadBeforeAttempt(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeSigning(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadBeforeSigning(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterSigning(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeTransmit(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadBeforeTransmit(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterTransmit(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeDeserialization(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadBeforeDeserialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterDeserialization(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterAttempt(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeAttemptCompletion(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ModifyBeforeCompletion(context.Context, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

func (BaseInterceptor[In, Req, Resp, Out]) ReadAfterExecution(context.Context, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error {
	return nil
}

// pointHook is implemented by function-backed interceptors that pick their
// points at runtime instead of through methods.
type pointHook[In, Req, Resp, Out any] interface {
	handles(HookPoint) bool
	read(context.Context, HookPoint, View[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
	mutate(context.Context, HookPoint, *Context[In, Req, Resp, Out], *Config[In, Req, Resp, Out]) error
}

type funcInterceptor[In, Req, Resp, Out any] struct {
	BaseInterceptor[In, Req, Resp, Out]
	readFn   func(context.Context, HookPoint, View[In, Req, Resp, Out]) error
	mutateFn func(context.Context, *Context[In, Req, Resp, Out]) error
	name     Name
	point    HookPoint
	every    bool
}

func (f *funcInterceptor[In, Req, Resp, Out]) Name() Name {
	return f.name
}

func (f *funcInterceptor[In, Req, Resp, Out]) handles(p HookPoint) bool {
	return f.every || f.point == p
}

func (f *funcInterceptor[In, Req, Resp, Out]) read(ctx context.Context, p HookPoint, v View[In, Req, Resp, Out], _ *Config[In, Req, Resp, Out]) error {
	if f.readFn == nil {
		return nil
	}
	return f.readFn(ctx, p, v)
}

func (f *funcInterceptor[In, Req, Resp, Out]) mutate(ctx context.Context, p HookPoint, c *Context[In, Req, Resp, Out], _ *Config[In, Req, Resp, Out]) error {
	if f.mutateFn != nil {
		return f.mutateFn(ctx, c)
	}
	return f.read(ctx, p, c.view(), nil)
}

// ReadHook creates an interceptor that observes a single hook point.
// It may be attached to mutating points too; it only ever sees a View.
func ReadHook[In, Req, Resp, Out any](name Name, point HookPoint, fn func(context.Context, View[In, Req, Resp, Out]) error) Interceptor[In, Req, Resp, Out] {
	return &funcInterceptor[In, Req, Resp, Out]{
		name:  name,
		point: point,
		readFn: func(ctx context.Context, _ HookPoint, v View[In, Req, Resp, Out]) error {
			return fn(ctx, v)
		},
	}
}

// ModifyHook creates an interceptor that rewrites the Context at a single
// mutating hook point. It panics if point is read-only.
func ModifyHook[In, Req, Resp, Out any](name Name, point HookPoint, fn func(context.Context, *Context[In, Req, Resp, Out]) error) Interceptor[In, Req, Resp, Out] {
	if !point.Mutating() {
		panic(fmt.Sprintf("callz: ModifyHook %q attached to read-only point %s", name, point))
	}
	return &funcInterceptor[In, Req, Resp, Out]{name: name, point: point, mutateFn: fn}
}

// Observe creates an interceptor that sees every hook point in order.
func Observe[In, Req, Resp, Out any](name Name, fn func(context.Context, HookPoint, View[In, Req, Resp, Out]) error) Interceptor[In, Req, Resp, Out] {
	return &funcInterceptor[In, Req, Resp, Out]{name: name, every: true, readFn: fn}
}

// Interceptors is the ordered interceptor registry of one invocation.
// Plugins register interceptors during configuration; the orchestrator then
// dispatches every point to each interceptor in registration order.
type Interceptors[In, Req, Resp, Out any] struct {
	list []Interceptor[In, Req, Resp, Out]
	mu   sync.RWMutex
}

// NewInterceptors creates a registry with optional initial interceptors.
func NewInterceptors[In, Req, Resp, Out any](interceptors ...Interceptor[In, Req, Resp, Out]) *Interceptors[In, Req, Resp, Out] {
	return &Interceptors[In, Req, Resp, Out]{list: slices.Clone(interceptors)}
}

// Register appends interceptors.
func (r *Interceptors[In, Req, Resp, Out]) Register(interceptors ...Interceptor[In, Req, Resp, Out]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, interceptors...)
}

// Len returns the number of registered interceptors.
func (r *Interceptors[In, Req, Resp, Out]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

// Names returns the registered interceptor names in order.
func (r *Interceptors[In, Req, Resp, Out]) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Name, len(r.list))
	for i, ic := range r.list {
		names[i] = ic.Name()
	}
	return names
}

func (r *Interceptors[In, Req, Resp, Out]) snapshot() []Interceptor[In, Req, Resp, Out] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.list)
}

// readStep returns a chain step dispatching a read-only point.
func (r *Interceptors[In, Req, Resp, Out]) readStep(point HookPoint, cfg *Config[In, Req, Resp, Out]) func(context.Context, View[In, Req, Resp, Out]) error {
	return func(ctx context.Context, v View[In, Req, Resp, Out]) error {
		for _, ic := range r.snapshot() {
			if err := callRead(ctx, ic, point, v, cfg); err != nil {
				return &HookError{Err: err, Interceptor: ic.Name(), Point: point}
			}
		}
		return nil
	}
}

// mutateStep returns a chain step dispatching a mutating point.
func (r *Interceptors[In, Req, Resp, Out]) mutateStep(point HookPoint, cfg *Config[In, Req, Resp, Out]) func(context.Context, *Context[In, Req, Resp, Out]) error {
	return func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
		for _, ic := range r.snapshot() {
			if err := callMutate(ctx, ic, point, c, cfg); err != nil {
				return &HookError{Err: err, Interceptor: ic.Name(), Point: point}
			}
		}
		return nil
	}
}

func callRead[In, Req, Resp, Out any](ctx context.Context, ic Interceptor[In, Req, Resp, Out], point HookPoint, v View[In, Req, Resp, Out], cfg *Config[In, Req, Resp, Out]) (err error) {
	defer recoverStep(&err)
	if ph, ok := ic.(pointHook[In, Req, Resp, Out]); ok {
		if !ph.handles(point) {
			return nil
		}
		return ph.read(ctx, point, v, cfg)
	}
	switch point {
	case ClientReadBeforeExecution:
		return ic.ClientReadBeforeExecution(ctx, v, cfg)
	case OperationReadBeforeExecution:
		return ic.OperationReadBeforeExecution(ctx, v, cfg)
	case ReadBeforeSerialization:
		return ic.ReadBeforeSerialization(ctx, v, cfg)
	case ReadAfterSerialization:
		return ic.ReadAfterSerialization(ctx, v, cfg)
	case ReadBeforeAttempt:
		return ic.ReadBeforeAttempt(ctx, v, cfg)
	case ReadBeforeSigning:
		return ic.ReadBeforeSigning(ctx, v, cfg)
	case ReadAfterSigning:
		return ic.ReadAfterSigning(ctx, v, cfg)
	case ReadBeforeTransmit:
		return ic.ReadBeforeTransmit(ctx, v, cfg)
	case ReadAfterTransmit:
		return ic.ReadAfterTransmit(ctx, v, cfg)
	case ReadBeforeDeserialization:
		return ic.ReadBeforeDeserialization(ctx, v, cfg)
	case ReadAfterDeserialization:
		return ic.ReadAfterDeserialization(ctx, v, cfg)
	case ReadAfterAttempt:
		return ic.ReadAfterAttempt(ctx, v, cfg)
	case ReadAfterExecution:
		return ic.ReadAfterExecution(ctx, v, cfg)
	default:
		return fmt.Errorf("%s is not a read-only hook point", point)
	}
}

func callMutate[In, Req, Resp, Out any](ctx context.Context, ic Interceptor[In, Req, Resp, Out], point HookPoint, c *Context[In, Req, Resp, Out], cfg *Config[In, Req, Resp, Out]) (err error) {
	defer recoverStep(&err)
	if ph, ok := ic.(pointHook[In, Req, Resp, Out]); ok {
		if !ph.handles(point) {
			return nil
		}
		return ph.mutate(ctx, point, c, cfg)
	}
	switch point {
	case ModifyBeforeSerialization:
		return ic.ModifyBeforeSerialization(ctx, c, cfg)
	case ModifyBeforeRetryLoop:
		return ic.ModifyBeforeRetryLoop(ctx, c, cfg)
	case ModifyBeforeSigning:
		return ic.ModifyBeforeSigning(ctx, c, cfg)
	case ModifyBeforeTransmit:
		return ic.ModifyBeforeTransmit(ctx, c, cfg)
	case ModifyBeforeDeserialization:
		return ic.ModifyBeforeDeserialization(ctx, c, cfg)
	case ModifyBeforeAttemptCompletion:
		return ic.ModifyBeforeAttemptCompletion(ctx, c, cfg)
	case ModifyBeforeCompletion:
		return ic.ModifyBeforeCompletion(ctx, c, cfg)
	default:
		return fmt.Errorf("%s is not a mutating hook point", point)
	}
}
