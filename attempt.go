package callz

import "context"

// makeAnAttempt runs one pass of sign → transmit → deserialize over ic.
//
// The returned error is the attempt's failure, already tagged with its phase.
// A deserialization error is not an attempt failure: it is stored as the
// outcome and the remaining hooks still run.
func makeAnAttempt[In, Req, Resp, Out any](
	ctx context.Context,
	ic *Context[In, Req, Resp, Out],
	cfg *Config[In, Req, Resp, Out],
	interceptors *Interceptors[In, Req, Resp, Out],
) (*Context[In, Req, Resp, Out], error) {
	return enterPhase(ctx, PhaseDispatch, ic).
		include(interceptors.readStep(ReadBeforeAttempt, cfg)).
		includeMut(resolveEndpoint(cfg)).
		includeMut(interceptors.mutateStep(ModifyBeforeSigning, cfg)).
		include(interceptors.readStep(ReadBeforeSigning, cfg)).
		includeMut(signRequest(cfg)).
		include(interceptors.readStep(ReadAfterSigning, cfg)).
		includeMut(interceptors.mutateStep(ModifyBeforeTransmit, cfg)).
		include(interceptors.readStep(ReadBeforeTransmit, cfg)).
		includeMut(transmit(cfg)).
		include(interceptors.readStep(ReadAfterTransmit, cfg)).
		includeMut(interceptors.mutateStep(ModifyBeforeDeserialization, cfg)).
		include(interceptors.readStep(ReadBeforeDeserialization, cfg)).
		transition(PhaseResponseHandling).
		includeMut(deserialize(cfg)).
		include(interceptors.readStep(ReadAfterDeserialization, cfg)).
		finish()
}

func resolveEndpoint[In, Req, Resp, Out any](cfg *Config[In, Req, Resp, Out]) func(context.Context, *Context[In, Req, Resp, Out]) error {
	return func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
		if cfg.EndpointResolver == nil {
			return nil
		}
		req, ok := c.Request()
		if !ok {
			return ErrRequestConsumed
		}
		resolved, err := cfg.EndpointResolver.ResolveEndpoint(ctx, req)
		if err != nil {
			return err
		}
		c.SetRequest(resolved)
		return nil
	}
}

func signRequest[In, Req, Resp, Out any](cfg *Config[In, Req, Resp, Out]) func(context.Context, *Context[In, Req, Resp, Out]) error {
	return func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
		if cfg.Signer == nil {
			return nil
		}
		req, ok := c.Request()
		if !ok {
			return ErrRequestConsumed
		}
		signed, err := cfg.Signer.Sign(ctx, req)
		if err != nil {
			return err
		}
		c.SetRequest(signed)
		return nil
	}
}

func transmit[In, Req, Resp, Out any](cfg *Config[In, Req, Resp, Out]) func(context.Context, *Context[In, Req, Resp, Out]) error {
	return func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
		req, ok := c.takeRequest()
		if !ok {
			return ErrRequestConsumed
		}
		resp, err := cfg.Transport.Call(ctx, req)
		if err != nil {
			return err
		}
		c.SetResponse(resp)
		return nil
	}
}

// deserialize tries the streaming path first and falls back to reading the
// full body. Deserializer errors become the outcome; body read errors abort
// the attempt.
func deserialize[In, Req, Resp, Out any](cfg *Config[In, Req, Resp, Out]) func(context.Context, *Context[In, Req, Resp, Out]) error {
	return func(ctx context.Context, c *Context[In, Req, Resp, Out]) error {
		if c.HasOutcome() {
			// a hook settled the outcome already
			return nil
		}
		resp, ok := c.Response()
		if !ok {
			return ErrMissingResponse
		}

		out, handled, err := cfg.Deserializer.DeserializeStreaming(ctx, resp)
		if !handled && err == nil {
			if br := cfg.bodyReader(); br != nil {
				resp, err = br.ReadBody(ctx, resp)
				if err != nil {
					return err
				}
				c.SetResponse(resp)
			}
			out, err = cfg.Deserializer.Deserialize(ctx, resp)
		}

		if err != nil {
			c.SetError(tagError(PhaseResponseHandling, c, err))
			return nil
		}
		c.SetOutput(out)
		return nil
	}
}
