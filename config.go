package callz

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zoobzio/clockz"
)

// Config is the capability set of one invocation.
//
// It starts empty and is filled by client-level plugins, then by
// operation-level plugins. After that it is only read.
type Config[In, Req, Resp, Out any] struct {
	RetryStrategy    RetryStrategy[In, Req, Resp, Out]
	Serializer       Serializer[In, Req]
	Deserializer     Deserializer[Resp, Out]
	Transport        Transport[Req, Resp]
	EndpointResolver EndpointResolver[Req]
	Signer           Signer[Req]
	BodyReader       BodyReader[Resp]

	// Clock is the sleep provider. Without one, no timeout applies.
	Clock clockz.Clock

	// Diagnostics is flushed once when the retry loop exits.
	Diagnostics DiagnosticSink

	Timeouts TimeoutConfig

	// HonorRetryDelay makes YesAfterDelay decisions wait instead of failing.
	HonorRetryDelay bool
}

// validate reports missing required capabilities.
func (c *Config[In, Req, Resp, Out]) validate() error {
	var errs []error
	if c.Serializer == nil {
		errs = append(errs, ErrMissingSerializer)
	}
	if c.Deserializer == nil {
		errs = append(errs, ErrMissingDeserializer)
	}
	if c.Transport == nil {
		errs = append(errs, ErrMissingTransport)
	}
	if c.RetryStrategy == nil {
		errs = append(errs, ErrMissingRetryStrategy)
	}
	return errors.Join(errs...)
}

// bodyReader returns the configured body reader, falling back to the
// deserializer when it can read bodies itself.
func (c *Config[In, Req, Resp, Out]) bodyReader() BodyReader[Resp] {
	if c.BodyReader != nil {
		return c.BodyReader
	}
	if br, ok := c.Deserializer.(BodyReader[Resp]); ok {
		return br
	}
	return nil
}

// delayClock returns the clock used to wait out retry delays.
func (c *Config[In, Req, Resp, Out]) delayClock() clockz.Clock {
	if c.Clock == nil {
		return clockz.RealClock
	}
	return c.Clock
}

// RuntimePlugin contributes configuration and interceptors to an invocation.
type RuntimePlugin[In, Req, Resp, Out any] interface {
	Configure(cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) error
}

// PluginFunc adapts a function to the RuntimePlugin interface.
type PluginFunc[In, Req, Resp, Out any] func(*Config[In, Req, Resp, Out], *Interceptors[In, Req, Resp, Out]) error

// Configure implements RuntimePlugin.
func (f PluginFunc[In, Req, Resp, Out]) Configure(cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) error {
	return f(cfg, interceptors)
}

// RuntimePlugins holds the client-level and operation-level plugins applied
// at the start of every invocation. Client plugins always run first.
type RuntimePlugins[In, Req, Resp, Out any] struct {
	client    []RuntimePlugin[In, Req, Resp, Out]
	operation []RuntimePlugin[In, Req, Resp, Out]
	mu        sync.RWMutex
}

// NewRuntimePlugins creates an empty plugin set.
func NewRuntimePlugins[In, Req, Resp, Out any]() *RuntimePlugins[In, Req, Resp, Out] {
	return &RuntimePlugins[In, Req, Resp, Out]{}
}

// WithClientPlugin appends a client-level plugin.
func (p *RuntimePlugins[In, Req, Resp, Out]) WithClientPlugin(plugin RuntimePlugin[In, Req, Resp, Out]) *RuntimePlugins[In, Req, Resp, Out] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = append(p.client, plugin)
	return p
}

// WithOperationPlugin appends an operation-level plugin.
func (p *RuntimePlugins[In, Req, Resp, Out]) WithOperationPlugin(plugin RuntimePlugin[In, Req, Resp, Out]) *RuntimePlugins[In, Req, Resp, Out] {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.operation = append(p.operation, plugin)
	return p
}

func (p *RuntimePlugins[In, Req, Resp, Out]) applyClient(cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	plugins := p.client
	p.mu.RUnlock()
	return applyPlugins("client", plugins, cfg, interceptors)
}

func (p *RuntimePlugins[In, Req, Resp, Out]) applyOperation(cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	plugins := p.operation
	p.mu.RUnlock()
	return applyPlugins("operation", plugins, cfg, interceptors)
}

func applyPlugins[In, Req, Resp, Out any](level string, plugins []RuntimePlugin[In, Req, Resp, Out], cfg *Config[In, Req, Resp, Out], interceptors *Interceptors[In, Req, Resp, Out]) (err error) {
	defer recoverStep(&err)
	for i, plugin := range plugins {
		if err := plugin.Configure(cfg, interceptors); err != nil {
			return fmt.Errorf("%s plugin %d: %w", level, i, err)
		}
	}
	return nil
}
