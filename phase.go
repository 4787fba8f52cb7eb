package callz

import "context"

// Phase labels the part of the pipeline a failure surfaced in.
// It is diagnostic only and never influences retry decisions.
type Phase uint8

const (
	// PhaseConstruction covers configuration, pre-serialization hooks and serialization.
	PhaseConstruction Phase = iota
	// PhaseDispatch covers endpoint resolution, signing, transmission and attempt timeouts.
	PhaseDispatch
	// PhaseResponseHandling covers deserialization, post-attempt hooks and the operation timeout.
	PhaseResponseHandling
)

func (p Phase) String() string {
	switch p {
	case PhaseConstruction:
		return "construction"
	case PhaseDispatch:
		return "dispatch"
	case PhaseResponseHandling:
		return "response-handling"
	default:
		return "unknown"
	}
}

// phaseChain threads a Context through fallible steps, stopping at the first
// failure and tagging it with the phase that was current at the time.
type phaseChain[In, Req, Resp, Out any] struct {
	ctx   context.Context
	ic    *Context[In, Req, Resp, Out]
	err   *Error[Resp]
	phase Phase
}

func enterPhase[In, Req, Resp, Out any](ctx context.Context, phase Phase, ic *Context[In, Req, Resp, Out]) *phaseChain[In, Req, Resp, Out] {
	return &phaseChain[In, Req, Resp, Out]{ctx: ctx, ic: ic, phase: phase}
}

// include runs a step that may only inspect the Context.
func (p *phaseChain[In, Req, Resp, Out]) include(step func(context.Context, View[In, Req, Resp, Out]) error) *phaseChain[In, Req, Resp, Out] {
	if p.err != nil || p.abandoned() {
		return p
	}
	if err := runRead(p.ctx, p.ic, step); err != nil {
		p.err = tagError(p.phase, p.ic, err)
	}
	return p
}

// includeMut runs a step that may replace slots of the Context.
func (p *phaseChain[In, Req, Resp, Out]) includeMut(step func(context.Context, *Context[In, Req, Resp, Out]) error) *phaseChain[In, Req, Resp, Out] {
	if p.err != nil || p.abandoned() {
		return p
	}
	if err := runMutate(p.ctx, p.ic, step); err != nil {
		p.err = tagError(p.phase, p.ic, err)
	}
	return p
}

// abandoned stops the chain once its context has ended, so work left behind
// by a timeout or cancellation runs no further steps. Only the step already
// in flight can outlive the deadline.
func (p *phaseChain[In, Req, Resp, Out]) abandoned() bool {
	if err := p.ctx.Err(); err != nil {
		p.err = tagError(p.phase, p.ic, err)
		return true
	}
	return false
}

// transition carries the same Context into a new phase.
func (p *phaseChain[In, Req, Resp, Out]) transition(phase Phase) *phaseChain[In, Req, Resp, Out] {
	p.phase = phase
	return p
}

// finish ends the chain, yielding the Context or the tagged failure.
func (p *phaseChain[In, Req, Resp, Out]) finish() (*Context[In, Req, Resp, Out], error) {
	if p.err != nil {
		return p.ic, p.err
	}
	return p.ic, nil
}

// fail produces a tagged error immediately, bypassing remaining steps.
func (p *phaseChain[In, Req, Resp, Out]) fail(cause error) *Error[Resp] {
	if p.err != nil {
		return p.err
	}
	p.err = tagError(p.phase, p.ic, cause)
	return p.err
}

func runRead[In, Req, Resp, Out any](ctx context.Context, ic *Context[In, Req, Resp, Out], step func(context.Context, View[In, Req, Resp, Out]) error) (err error) {
	defer recoverStep(&err)
	return step(ctx, ic.view())
}

func runMutate[In, Req, Resp, Out any](ctx context.Context, ic *Context[In, Req, Resp, Out], step func(context.Context, *Context[In, Req, Resp, Out]) error) (err error) {
	defer recoverStep(&err)
	return step(ctx, ic)
}
