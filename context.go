package callz

import "github.com/google/uuid"

// stage discriminates which slot of a Context currently holds a value.
type stage uint8

const (
	stageEmpty stage = iota
	stageInput
	stageRequest
	stageResponse
	stageOutcome
)

func (s stage) String() string {
	switch s {
	case stageInput:
		return "input"
	case stageRequest:
		return "request"
	case stageResponse:
		return "response"
	case stageOutcome:
		return "outcome"
	default:
		return "empty"
	}
}

// View is the read-only face of a Context handed to read hooks and retry
// strategies.
type View[In, Req, Resp, Out any] interface {
	// ID is the invocation identifier shared by all attempts.
	ID() string
	// Attempt is the 1-based number of the current attempt, 0 before the retry loop.
	Attempt() int
	Input() (In, bool)
	Request() (Req, bool)
	// Response reports the raw response. It stays visible after the outcome is
	// set, until the next attempt starts.
	Response() (Resp, bool)
	// Output reports a successful outcome.
	Output() (Out, bool)
	// OutcomeErr reports a failed outcome.
	OutcomeErr() error
	HasOutcome() bool
}

// readOnly exposes a Context through View only. Read hooks and retry
// strategies receive it so a type assertion cannot reach the setters.
type readOnly[In, Req, Resp, Out any] struct {
	c *Context[In, Req, Resp, Out]
}

func (r readOnly[In, Req, Resp, Out]) ID() string             { return r.c.ID() }
func (r readOnly[In, Req, Resp, Out]) Attempt() int           { return r.c.Attempt() }
func (r readOnly[In, Req, Resp, Out]) Input() (In, bool)      { return r.c.Input() }
func (r readOnly[In, Req, Resp, Out]) Request() (Req, bool)   { return r.c.Request() }
func (r readOnly[In, Req, Resp, Out]) Response() (Resp, bool) { return r.c.Response() }
func (r readOnly[In, Req, Resp, Out]) Output() (Out, bool)    { return r.c.Output() }
func (r readOnly[In, Req, Resp, Out]) OutcomeErr() error      { return r.c.OutcomeErr() }
func (r readOnly[In, Req, Resp, Out]) HasOutcome() bool       { return r.c.HasOutcome() }

// Context carries the state of one invocation through the pipeline.
//
// It is a tagged union: exactly one of input, request, response or outcome is
// live at a time, and setting a later slot retires the earlier ones. The only
// overlap is the outcome stage, which keeps the response it was produced from.
// A Context is owned by a single invocation and must not be shared.
type Context[In, Req, Resp, Out any] struct {
	input       In
	request     Req
	response    Resp
	output      Out
	retry       Req
	err         error
	id          string
	attempt     int
	stage       stage
	hasResponse bool
	hasRetry    bool
}

// NewContext creates a Context holding the operation input.
func NewContext[Req, Resp, Out, In any](input In) *Context[In, Req, Resp, Out] {
	return &Context[In, Req, Resp, Out]{
		input: input,
		id:    uuid.NewString(),
		stage: stageInput,
	}
}

// ID returns the invocation identifier.
func (c *Context[In, Req, Resp, Out]) ID() string {
	return c.id
}

// Attempt returns the current attempt number.
func (c *Context[In, Req, Resp, Out]) Attempt() int {
	return c.attempt
}

// Input returns the input if it has not been serialized yet.
func (c *Context[In, Req, Resp, Out]) Input() (In, bool) {
	if c.stage != stageInput {
		var zero In
		return zero, false
	}
	return c.input, true
}

// Request returns the serialized request if it has not been transmitted yet.
func (c *Context[In, Req, Resp, Out]) Request() (Req, bool) {
	if c.stage != stageRequest {
		var zero Req
		return zero, false
	}
	return c.request, true
}

// Response returns the raw response of the current attempt.
func (c *Context[In, Req, Resp, Out]) Response() (Resp, bool) {
	if c.stage == stageResponse || (c.stage == stageOutcome && c.hasResponse) {
		return c.response, true
	}
	var zero Resp
	return zero, false
}

// Output returns the deserialized output when the outcome is a success.
func (c *Context[In, Req, Resp, Out]) Output() (Out, bool) {
	if c.stage != stageOutcome || c.err != nil {
		var zero Out
		return zero, false
	}
	return c.output, true
}

// OutcomeErr returns the error when the outcome is a failure.
func (c *Context[In, Req, Resp, Out]) OutcomeErr() error {
	if c.stage != stageOutcome {
		return nil
	}
	return c.err
}

// HasOutcome reports whether the current attempt produced an output or error.
func (c *Context[In, Req, Resp, Out]) HasOutcome() bool {
	return c.stage == stageOutcome
}

// view returns c as a View that cannot be converted back to a Context.
func (c *Context[In, Req, Resp, Out]) view() View[In, Req, Resp, Out] {
	return readOnly[In, Req, Resp, Out]{c: c}
}

// SetInput replaces the operation input.
func (c *Context[In, Req, Resp, Out]) SetInput(in In) {
	c.reset()
	c.input = in
	c.stage = stageInput
}

// SetRequest replaces the request of the current attempt.
func (c *Context[In, Req, Resp, Out]) SetRequest(req Req) {
	c.reset()
	c.request = req
	c.stage = stageRequest
}

// SetResponse records the raw response of the current attempt.
func (c *Context[In, Req, Resp, Out]) SetResponse(resp Resp) {
	c.reset()
	c.response = resp
	c.stage = stageResponse
}

// SetOutput records a successful outcome. A response received in this attempt
// stays attached.
func (c *Context[In, Req, Resp, Out]) SetOutput(out Out) {
	c.setOutcome(out, nil)
}

// SetError records a failed outcome. A response received in this attempt
// stays attached.
func (c *Context[In, Req, Resp, Out]) SetError(err error) {
	var zero Out
	c.setOutcome(zero, err)
}

// SetRetryRequest supplies the request the next attempt will start from.
// Mutating hooks use it to re-derive a request when Req cannot be cloned.
func (c *Context[In, Req, Resp, Out]) SetRetryRequest(req Req) {
	c.retry = req
	c.hasRetry = true
}

func (c *Context[In, Req, Resp, Out]) setOutcome(out Out, err error) {
	keep := c.stage == stageResponse || (c.stage == stageOutcome && c.hasResponse)
	resp := c.response
	c.reset()
	if keep {
		c.response = resp
		c.hasResponse = true
	}
	c.output = out
	c.err = err
	c.stage = stageOutcome
}

// takeInput consumes the input.
func (c *Context[In, Req, Resp, Out]) takeInput() (In, bool) {
	in, ok := c.Input()
	if ok {
		c.reset()
	}
	return in, ok
}

// takeRequest hands the request over, leaving the context empty.
func (c *Context[In, Req, Resp, Out]) takeRequest() (Req, bool) {
	req, ok := c.Request()
	if ok {
		c.reset()
	}
	return req, ok
}

// takeRetryRequest consumes a request supplied through SetRetryRequest.
func (c *Context[In, Req, Resp, Out]) takeRetryRequest() (Req, bool) {
	req, ok := c.retry, c.hasRetry
	var zero Req
	c.retry, c.hasRetry = zero, false
	return req, ok
}

// fork copies the context for an attempt that may be abandoned on timeout.
func (c *Context[In, Req, Resp, Out]) fork() *Context[In, Req, Resp, Out] {
	cp := *c
	return &cp
}

func (c *Context[In, Req, Resp, Out]) reset() {
	var (
		in   In
		req  Req
		resp Resp
		out  Out
	)
	c.input, c.request, c.response, c.output = in, req, resp, out
	c.err = nil
	c.hasResponse = false
	c.stage = stageEmpty
}
