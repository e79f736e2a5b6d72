// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	// Observe lists metrics sampled during the run that do not gate its start.
	Observe    []Metric
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	Duration   time.Duration
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action represents a fault injection or recovery action
type Action struct {
	Type    string // latency, failure, outage, load
	Target  string
	Execute func(context.Context) error
}

// Assertion is checked against a fresh reading of a metric once the
// rollback actions have run.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer         trace.Tracer
	logger         *zap.Logger
	sampleInterval time.Duration
	pause          time.Duration
	experiments    []Experiment
	results        []Result
	mu             sync.Mutex
}

type Option func(*Engine)

// WithSampleInterval sets how often metrics are read while chaos is active.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) { e.sampleInterval = d }
}

// WithPause sets the wait between the experiments of a game day.
func WithPause(d time.Duration) Option {
	return func(e *Engine) { e.pause = d }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("libranexus/chaos") }
}

func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		tracer:         otel.Tracer("libranexus/chaos"),
		logger:         logger.Named("chaos"),
		sampleInterval: time.Second,
		pause:          30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterExperiment adds an experiment to the test suite
func (ce *Engine) RegisterExperiment(exp Experiment) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.experiments = append(ce.experiments, exp)
}

// Experiments returns the list of registered experiments.
func (ce *Engine) Experiments() []Experiment {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return append([]Experiment(nil), ce.experiments...)
}

// Results returns the results of all finished experiments.
func (ce *Engine) Results() []Result {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	return append([]Result(nil), ce.results...)
}

// RunExperiment executes a single chaos experiment
func (ce *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := ce.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := ce.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.SteadyStateValid = false
		result.Violations = violations
		return result, errors.New("steady state invalid - aborting experiment")
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	ce.execute(ctx, span, exp.Method, result)

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	ce.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	ce.execute(ctx, span, exp.Rollback, result)

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = ce.validateAssertions(ctx, exp, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	ce.mu.Lock()
	ce.results = append(ce.results, *result)
	ce.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return result, nil
}

func (ce *Engine) execute(ctx context.Context, span trace.Span, actions []Action, result *Result) {
	for _, action := range actions {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
			ce.logger.Warn("chaos action failed",
				zap.String("type", action.Type),
				zap.String("target", action.Target),
				zap.Error(err),
			)
		}
	}
}

// observe samples every metric until the experiment duration has passed. The
// last sample is taken when the window closes.
func (ce *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	recoveryStart := time.Time{}
	systemRecovered := false

	ticker := time.NewTicker(ce.sampleInterval)
	defer ticker.Stop()

	sample := func() {
		for _, metric := range slices.Concat(exp.SteadyState, exp.Observe) {
			value, err := metric.Query(ctx)
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
					Timestamp: time.Now(),
					Error:     err.Error(),
					Component: metric.Name,
				})
				continue
			}

			result.Observations[metric.Name] = append(
				result.Observations[metric.Name],
				DataPoint{Timestamp: time.Now(), Value: value},
			)

			if !evaluateThreshold(value, metric.Threshold) {
				if recoveryStart.IsZero() {
					recoveryStart = time.Now()
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  time.Now(),
				})
			} else if !recoveryStart.IsZero() && !systemRecovered {
				mttr := time.Since(recoveryStart)
				result.MTTR = &mttr
				systemRecovered = true
			}
		}
	}

	for {
		select {
		case <-observationCtx.Done():
			sample()
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (ce *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}

		if !evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// validateAssertions reads each asserted metric once more after the rollback
// and returns the messages of the assertions that do not hold.
func (ce *Engine) validateAssertions(ctx context.Context, exp Experiment, result *Result) []string {
	metrics := make(map[string]Metric)
	for _, m := range slices.Concat(exp.SteadyState, exp.Observe) {
		metrics[m.Name] = m
	}

	var failed []string
	for _, assertion := range exp.Validation {
		metric, ok := metrics[assertion.Metric]
		if !ok {
			failed = append(failed, fmt.Sprintf("%s: unknown metric %s", assertion.Message, assertion.Metric))
			continue
		}

		value, err := metric.Query(ctx)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", assertion.Message, err))
			continue
		}
		result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: time.Now(), Value: value})

		if !assertion.Condition(value) {
			failed = append(failed, fmt.Sprintf("%s (got %v)", assertion.Message, value))
		}
	}
	return failed
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario in turn and fails if any hypothesis was
// violated or any experiment could not run.
func (ce *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) error {
	ctx, span := ce.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	ce.logger.Info("starting game day",
		zap.String("name", gameDay.Name),
		zap.Time("date", gameDay.Date),
		zap.Int("experiments", len(gameDay.Scenarios)),
	)

	var failed []string
	for i, scenario := range gameDay.Scenarios {
		ce.logger.Info("running experiment",
			zap.Int("n", i+1),
			zap.String("name", scenario.Name),
			zap.String("hypothesis", scenario.Hypothesis),
		)

		result, err := ce.RunExperiment(ctx, scenario)
		if err != nil {
			ce.logger.Error("experiment failed", zap.String("name", scenario.Name), zap.Error(err))
			failed = append(failed, scenario.Name)
			continue
		}

		ce.logResult(result)
		if !result.HypothesisHeld {
			failed = append(failed, scenario.Name)
		}

		if i < len(gameDay.Scenarios)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ce.pause):
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("game day %s: %d experiments failed: %s", gameDay.Name, len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func (ce *Engine) logResult(result *Result) {
	fields := []zap.Field{
		zap.String("name", result.ExperimentName),
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Int("violations", len(result.Violations)),
		zap.Int("errors", len(result.ErrorEvents)),
		zap.Duration("duration", result.Duration),
	}
	if result.MTTR != nil {
		fields = append(fields, zap.Duration("mttr", *result.MTTR))
	}
	if len(result.FailedAssertions) > 0 {
		fields = append(fields, zap.Strings("failed_assertions", result.FailedAssertions))
	}

	if result.HypothesisHeld {
		ce.logger.Info("hypothesis held", fields...)
	} else {
		ce.logger.Warn("hypothesis violated", fields...)
	}
}
