package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/usecase/model"
)

const tracerName = "github.com/pitabwire/usecase"

// Invocation outcomes reported to observers.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Span attribute keys.
var (
	AttrUseCase = attribute.Key("usecase.name")
	AttrAction  = attribute.Key("usecase.action")
	AttrOutcome = attribute.Key("usecase.outcome")
)

// Observer receives one Event per invocation. Implementations may record
// metrics, audit logs, or other telemetry.
type Observer interface {
	OnInvoked(ctx context.Context, event Event)
}

// Event describes the outcome of one invocation.
type Event struct {
	UseCase  string        `json:"usecase"`
	Action   string        `json:"action,omitempty"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Fields   []string      `json:"fields,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Invoker runs the invocation protocol against any UseCase.
type Invoker struct {
	logger     *zap.Logger
	tracer     trace.Tracer
	observers  []Observer
	policy     ValidationPolicy
	mode       AvailabilityMode
	transactor Transactor
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(iv *Invoker) { iv.logger = logger }
}

// WithTracer sets the tracer used for one span per invocation.
func WithTracer(tracer trace.Tracer) Option {
	return func(iv *Invoker) { iv.tracer = tracer }
}

// WithObserver adds an invocation observer.
func WithObserver(obs Observer) Option {
	return func(iv *Invoker) { iv.observers = append(iv.observers, obs) }
}

// WithValidationPolicy selects how validation errors reach the caller.
func WithValidationPolicy(p ValidationPolicy) Option {
	return func(iv *Invoker) { iv.policy = p }
}

// WithAvailabilityMode selects whether availability is re-checked right
// before execution.
func WithAvailabilityMode(m AvailabilityMode) Option {
	return func(iv *Invoker) { iv.mode = m }
}

// WithTransactor sets the transaction boundary used by
// RecheckInTransaction.
func WithTransactor(tx Transactor) Option {
	return func(iv *Invoker) { iv.transactor = tx }
}

// NewInvoker creates an Invoker. Without options it checks availability
// once, propagates validation errors and emits no telemetry.
func NewInvoker(opts ...Option) *Invoker {
	iv := &Invoker{
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		transactor: passthrough{},
	}
	for _, opt := range opts {
		opt(iv)
	}
	if iv.logger == nil {
		iv.logger = zap.NewNop()
	}
	if iv.transactor == nil {
		iv.transactor = passthrough{}
	}
	return iv
}

// Probe runs only the availability check. It never validates or executes.
func (iv *Invoker) Probe(ctx context.Context, uc UseCase, in model.Input) (bool, error) {
	ok, err := uc.IsAvailable(ctx, in)
	if err != nil {
		return false, fmt.Errorf("usecase %s: availability: %w", NameOf(uc), err)
	}
	return ok, nil
}

// Invoke runs availability check, validation and execution in order and
// returns the Result of execution verbatim.
//
// An unavailable use case raises a *model.LogicError and neither Validate
// nor Execute is called. A *model.ValidationError from Validate is returned
// as an error unless the FoldValidationErrors policy is active.
func (iv *Invoker) Invoke(ctx context.Context, uc UseCase, in model.Input) (model.Result, error) {
	start := time.Now()
	name := NameOf(uc)

	ctx, span := iv.tracer.Start(ctx, "usecase.invoke", trace.WithAttributes(
		AttrUseCase.String(name),
		AttrAction.String(in.Action()),
	))
	defer span.End()

	event := Event{UseCase: name, Action: in.Action()}
	finish := func(outcome string, err error) {
		event.Outcome = outcome
		event.Duration = time.Since(start)
		if err != nil {
			event.Error = err.Error()
		}
		span.SetAttributes(AttrOutcome.String(outcome))
		if outcome == OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		iv.log(event)
		for _, obs := range iv.observers {
			obs.OnInvoked(ctx, event)
		}
	}

	ok, err := uc.IsAvailable(ctx, in)
	if err != nil {
		err = fmt.Errorf("usecase %s: availability: %w", name, err)
		finish(OutcomeError, err)
		return model.Result{}, err
	}
	if !ok {
		lerr := model.NewLogicError(name, in.Action())
		finish(OutcomeRejected, lerr)
		return model.Result{}, lerr
	}

	validated, err := uc.Validate(ctx, in)
	if err != nil {
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			finish(OutcomeError, err)
			return model.Result{}, err
		}
		event.Fields = verr.Fields()
		finish(OutcomeInvalid, err)
		if iv.policy == FoldValidationErrors {
			return model.Failure(verr.Errors()), nil
		}
		return model.Result{}, err
	}

	result, err := iv.execute(ctx, uc, name, in, validated)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, model.ErrNotAvailable) {
			outcome = OutcomeRejected
		}
		finish(outcome, err)
		return model.Result{}, err
	}

	if !result.IsSuccess() {
		event.Fields = sortedKeys(result.Errors())
		finish(OutcomeFailure, nil)
		return result, nil
	}
	finish(OutcomeSuccess, nil)
	return result, nil
}

// errRollback aborts a transaction whose execution produced a business
// failure. It never reaches the caller.
var errRollback = errors.New("usecase: rollback failed result")

func (iv *Invoker) execute(ctx context.Context, uc UseCase, name string, in model.Input, validated map[string]any) (model.Result, error) {
	if iv.mode != RecheckInTransaction {
		return uc.Execute(ctx, in.Action(), validated)
	}

	var result model.Result
	err := iv.transactor.WithinTransaction(ctx, func(txCtx context.Context) error {
		ok, err := uc.IsAvailable(txCtx, in)
		if err != nil {
			return fmt.Errorf("usecase %s: availability recheck: %w", name, err)
		}
		if !ok {
			return &model.LogicError{UseCase: name, Action: in.Action(), Reason: model.ErrPreconditionChanged}
		}
		result, err = uc.Execute(txCtx, in.Action(), validated)
		if err != nil {
			return err
		}
		if !result.IsSuccess() {
			return errRollback
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return result, nil
	}
	var lerr *model.LogicError
	if errors.Is(err, model.ErrPreconditionChanged) && !errors.As(err, &lerr) {
		iv.logger.Debug("transaction lost to a concurrent invocation", zap.String("usecase", name), zap.Error(err))
		return model.Result{}, &model.LogicError{UseCase: name, Action: in.Action(), Reason: model.ErrPreconditionChanged}
	}
	if err != nil {
		return model.Result{}, err
	}
	return result, nil
}

func (iv *Invoker) log(e Event) {
	fields := []zap.Field{
		zap.String("usecase", e.UseCase),
		zap.String("action", e.Action),
		zap.String("outcome", e.Outcome),
		zap.Duration("duration", e.Duration),
	}
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Strings("fields", e.Fields))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}

	switch e.Outcome {
	case OutcomeError:
		iv.logger.Error("usecase invocation failed", fields...)
	case OutcomeRejected:
		iv.logger.Warn("usecase not available", fields...)
	case OutcomeInvalid, OutcomeFailure:
		iv.logger.Info("usecase completed with errors", fields...)
	default:
		iv.logger.Debug("usecase completed", fields...)
	}
}

func sortedKeys(m map[string]*model.UseCaseError) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
