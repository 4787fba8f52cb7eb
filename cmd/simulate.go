package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zoobzio/callz"
	"github.com/zoobzio/clockz"
)

var (
	simInvocations int
	simFailureRate float64
	simLatency     time.Duration
	simSettings    string
	simMaxAttempts int
	simBreaker     int
	simWorkers     int
	simVerbose     bool
	simSeed        int64

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Run invocations against a flaky simulated service",
		Long: `Run a batch of invocations against an in-process service that fails a
configurable share of requests with a 503 and answers after a fixed latency.

Timeouts and retry shape come from --settings when given, otherwise from
--max-attempts with no timeouts. Every failed attempt is retried while
attempts remain; 4xx-style responses are not retried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := callz.DefaultSettings()
			if simSettings != "" {
				loaded, err := callz.LoadSettings(simSettings)
				if err != nil {
					return err
				}
				s = loaded
			} else {
				s.MaxAttempts = simMaxAttempts
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), s)
		},
	}
)

func init() {
	simulateCmd.Flags().IntVarP(&simInvocations, "invocations", "n", 20, "Number of invocations to run")
	simulateCmd.Flags().Float64Var(&simFailureRate, "failure-rate", 0.3, "Share of requests the service fails (0-1)")
	simulateCmd.Flags().DurationVar(&simLatency, "latency", 20*time.Millisecond, "Service response latency")
	simulateCmd.Flags().StringVar(&simSettings, "settings", "", "Settings file (.yaml, .yml or .toml)")
	simulateCmd.Flags().IntVar(&simMaxAttempts, "max-attempts", 3, "Attempts per invocation when no settings file is given")
	simulateCmd.Flags().IntVar(&simBreaker, "breaker", 0, "Open a circuit breaker after this many consecutive failures (0 disables)")
	simulateCmd.Flags().IntVar(&simWorkers, "workers", 0, "Bound concurrent calls to the service (0 disables)")
	simulateCmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "Log every attempt and retry decision")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Random seed (0 picks one from the clock)")
}

// message is the msgpack payload carried in both directions.
type message struct {
	Text string `msgpack:"text"`
}

// request is the simulated wire request. It is cloned for every attempt.
type request struct {
	headers map[string]string
	body    []byte
}

func (r request) Clone() request {
	headers := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		headers[k] = v
	}
	return request{headers: headers, body: append([]byte(nil), r.body...)}
}

type response struct {
	body   []byte
	status int
}

// statusError is a non-2xx response.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return "service returned status " + strconv.Itoa(e.status)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return true
}

// flakyService fails a share of calls with 503.
type flakyService struct {
	rng         *rand.Rand
	latency     time.Duration
	failureRate float64
	mu          sync.Mutex
}

func (f *flakyService) Call(ctx context.Context, req request) (response, error) {
	select {
	case <-time.After(f.latency):
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	f.mu.Lock()
	fail := f.rng.Float64() < f.failureRate
	f.mu.Unlock()

	if fail {
		return response{status: 503}, nil
	}
	msg, err := callz.Decode[message](req.body)
	if err != nil {
		return response{status: 400}, nil
	}
	body, err := callz.Encode(message{Text: strings.ToUpper(msg.Text)})
	if err != nil {
		return response{}, err
	}
	return response{status: 200, body: body}, nil
}

type (
	simConfig       = callz.Config[string, request, response, string]
	simInterceptors = callz.Interceptors[string, request, response, string]
	simPlugin       = callz.PluginFunc[string, request, response, string]
)

func runSimulation(ctx context.Context, out io.Writer, s callz.Settings) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if simFailureRate < 0 || simFailureRate > 1 {
		return fmt.Errorf("--failure-rate must be between 0 and 1, got %v", simFailureRate)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	seed := simSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	level := zerolog.InfoLevel
	if simVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Str("component", "simulate").Logger()

	var transport callz.Transport[request, response] = &flakyService{
		rng:         rand.New(rand.NewSource(seed)), //nolint:gosec // simulation only
		latency:     simLatency,
		failureRate: simFailureRate,
	}
	if simWorkers > 0 {
		pool := callz.NewWorkerPool[request, response]("simulated-service", transport, simWorkers)
		defer pool.Close()
		transport = pool
	}
	var breaker *callz.CircuitBreaker[request, response]
	if simBreaker > 0 {
		breaker = callz.NewCircuitBreaker[request, response]("simulated-service", transport, simBreaker, time.Second)
		defer breaker.Close()
		transport = breaker
	}

	plugins := callz.NewRuntimePlugins[string, request, response, string]().
		WithClientPlugin(simPlugin(func(cfg *simConfig, _ *simInterceptors) error {
			cfg.Serializer = callz.SerializerFunc[string, request](func(_ context.Context, in string) (request, error) {
				body, err := callz.Encode(message{Text: in})
				if err != nil {
					return request{}, err
				}
				return request{body: body, headers: map[string]string{"content-type": "application/msgpack"}}, nil
			})
			cfg.Deserializer = callz.DeserializerFunc[response, string](func(_ context.Context, resp response) (string, error) {
				if resp.status >= 300 {
					return "", &statusError{status: resp.status}
				}
				msg, err := callz.Decode[message](resp.body)
				if err != nil {
					return "", err
				}
				return msg.Text, nil
			})
			cfg.Transport = transport
			cfg.Clock = clockz.RealClock
			return nil
		})).
		WithClientPlugin(callz.SettingsPlugin[string, request, response, string](s)).
		WithClientPlugin(simPlugin(func(cfg *simConfig, ic *simInterceptors) error {
			cfg.RetryStrategy = callz.StandardRetry[string, request, response, string]{
				Retryable:   retryable,
				MaxAttempts: s.MaxAttempts,
				BaseDelay:   s.BaseDelay,
			}
			cfg.Diagnostics = callz.NewEventLog(logger)
			ic.Register(callz.ModifyHook("attempt-header", callz.ModifyBeforeTransmit,
				func(_ context.Context, c *callz.Context[string, request, response, string]) error {
					req, ok := c.Request()
					if !ok {
						return nil
					}
					req.headers["x-attempt"] = strconv.Itoa(c.Attempt())
					c.SetRequest(req)
					return nil
				}))
			return nil
		}))

	orch := callz.NewOrchestrator("simulate", plugins)
	defer orch.Close()

	if err := orch.OnFailure(func(_ context.Context, e callz.InvocationEvent) error {
		logger.Warn().
			Str("invocation_id", e.InvocationID).
			Str("phase", e.Phase.String()).
			Int("attempts", e.Attempt).
			Bool("timeout", e.Timeout).
			Err(e.Error).
			Msg("invocation failed")
		return nil
	}); err != nil {
		return err
	}

	logger.Info().
		Int("invocations", simInvocations).
		Float64("failure_rate", simFailureRate).
		Int("max_attempts", s.MaxAttempts).
		Dur("operation_timeout", s.Timeouts.Operation).
		Dur("attempt_timeout", s.Timeouts.Attempt).
		Int64("seed", seed).
		Msg("starting simulation")

	start := time.Now()
	var succeeded, failed int
	for i := 0; i < simInvocations; i++ {
		if _, err := orch.Invoke(ctx, fmt.Sprintf("call-%d", i)); err != nil {
			failed++
			continue
		}
		succeeded++
	}
	elapsed := time.Since(start)

	metrics := orch.Metrics()
	fmt.Fprintln(out, "results:")
	fmt.Fprintf(out, "  invocations: %d (%d succeeded, %d failed)\n", simInvocations, succeeded, failed)
	fmt.Fprintf(out, "  attempts:    %.0f\n", metrics.Counter(callz.InvokeAttemptsTotal).Value())
	fmt.Fprintf(out, "  timeouts:    %.0f\n", metrics.Counter(callz.InvokeTimeoutsTotal).Value())
	if breaker != nil {
		fmt.Fprintf(out, "  rejected:    %.0f (circuit %s)\n", breaker.Metrics().Counter(callz.CircuitRejectedTotal).Value(), breaker.State())
	}
	fmt.Fprintf(out, "  elapsed:     %s\n", elapsed.Round(time.Millisecond))

	// Give async failure hooks a moment to log
	time.Sleep(10 * time.Millisecond)
	return nil
}
