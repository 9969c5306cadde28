package audit

import (
	"context"
	"log/slog"
	"time"
)

// Result is the outcome envelope of a wrapped call. A non-zero Code
// marks a failed call.
type Result struct {
	Code int
	Msg  string
	Data any
}

// Failed reports whether the call did not succeed.
func (r Result) Failed() bool {
	return r.Code != 0
}

// Handler is the wrapped call.
type Handler func(ctx context.Context, params Params) (Result, error)

// ActorExtractor resolves the acting user for a call. Nil means unknown.
type ActorExtractor func(ctx context.Context, params Params) *Actor

// Stage names a step of the audit pipeline.
type Stage string

const (
	StageParamsExtracted    Stage = "params_extracted"
	StagePreCallResolved    Stage = "pre_call_resolved"
	StageInvoked            Stage = "invoked"
	StagePostCallReconciled Stage = "post_call_reconciled"
	StageClassified         Stage = "classified"
	StagePersisted          Stage = "persisted"
	StageAborted            Stage = "aborted"
)

// Pipeline wraps calls and emits their audit records.
type Pipeline struct {
	catalog   Catalog
	sink      Sink
	logger    *slog.Logger
	operators map[ObjectType]Operator
	fallback  Operator
	actor     ActorExtractor
	observer  Observer
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithOperator registers op for all operations on objects of type t.
func WithOperator(t ObjectType, op Operator) Option {
	return func(p *Pipeline) { p.operators[t] = op }
}

// WithDefaultOperator sets the operator used when no object type matches.
func WithDefaultOperator(op Operator) Option {
	return func(p *Pipeline) { p.fallback = op }
}

// WithActorExtractor replaces the default actor lookup.
func WithActorExtractor(fn ActorExtractor) Option {
	return func(p *Pipeline) { p.actor = fn }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock injects the time source used for latency and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a Pipeline reading descriptors from catalog and
// delivering records to sink.
func NewPipeline(catalog Catalog, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog:   catalog,
		sink:      sink,
		logger:    slog.Default(),
		operators: map[ObjectType]Operator{},
		fallback:  BaseOperator{},
		actor:     DefaultActor,
		observer:  nopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultActor takes the actor from the context, then from any Actor
// value among the parameters.
func DefaultActor(ctx context.Context, params Params) *Actor {
	if a := ActorFrom(ctx); a != nil {
		return a
	}
	for _, v := range params {
		switch a := v.(type) {
		case Actor:
			return &a
		case *Actor:
			if a != nil {
				return a
			}
		}
	}
	return nil
}

func (p *Pipeline) operatorFor(t ObjectType) Operator {
	if op, ok := p.operators[t]; ok {
		return op
	}
	return p.fallback
}

// Wrap returns next decorated with auditing for auditType.
func (p *Pipeline) Wrap(auditType AuditType, description string, next Handler) Handler {
	return func(ctx context.Context, params Params) (Result, error) {
		return p.Record(ctx, auditType, description, params, next)
	}
}

// Record runs next and audits it. The call's result and error are
// returned unchanged; auditing problems never fail the call.
func (p *Pipeline) Record(ctx context.Context, auditType AuditType, description string, params Params, next Handler) (Result, error) {
	start := p.now()

	if ShouldSkip(ctx) {
		p.observer.Aborted(auditType, ReasonSkipped)
		return next(ctx, params)
	}

	actor := p.actor(ctx, params)
	if actor == nil || actor.UserID == "" {
		p.logger.Error("audit actor is unresolved", "audit_type", auditType, "stage", StageAborted)
		p.observer.Aborted(auditType, ReasonActorUnresolved)
		return next(ctx, params)
	}

	d, ok := p.catalog.Lookup(auditType)
	if !ok {
		p.logger.Error("audit type is not registered", "audit_type", auditType, "error", ErrUnknownAuditType)
		p.observer.Aborted(auditType, ReasonUnknownType)
		return next(ctx, params)
	}

	draft, err := NewRecord(d, description, *actor, p.now)
	if err != nil {
		p.logger.Error("creating audit record", "audit_type", auditType, "error", err)
		p.observer.Aborted(auditType, ReasonActorUnresolved)
		return next(ctx, params)
	}
	p.logger.Debug("audit stage", "audit_type", auditType, "stage", StageParamsExtracted)

	op := p.operatorFor(d.ObjectType)
	builder := RecordBuilder{Resolver: op, Logger: p.logger}

	resolveParams := params
	if len(d.RequestParamNames) > 0 {
		resolveParams = op.ModifyRequestParams(ctx, d.RequestParamNames, params)
	}
	records := builder.Build(ctx, d, resolveParams, draft)
	p.logger.Debug("audit stage", "audit_type", auditType, "stage", StagePreCallResolved, "records", len(records))

	result, err := next(ctx, params)
	if err != nil {
		p.logger.Error("audited call failed", "audit_type", auditType, "stage", StageAborted, "error", err)
		p.observer.Aborted(auditType, ReasonCallFailed)
		return result, err
	}
	if result.Failed() {
		p.logger.Error("audited call failed", "audit_type", auditType, "stage", StageAborted, "code", result.Code)
		p.observer.Aborted(auditType, ReasonCallFailed)
		return result, nil
	}

	records = builder.Reconcile(ctx, d, result.Data, records)
	p.logger.Debug("audit stage", "audit_type", auditType, "stage", StagePostCallReconciled, "records", len(records))

	records, ok = classify(ctx, op, resolveParams, records)
	if !ok {
		p.logger.Warn("classification override changed the record count, ignoring it",
			"audit_type", auditType, "stage", StageClassified)
	}

	latency := p.now().Sub(start)
	latencyMs := latency.Milliseconds()
	for i := range records {
		records[i].LatencyMs = latencyMs
	}

	if err := p.sink.AddAudit(ctx, records, latencyMs); err != nil {
		p.logger.Warn("persisting audit records", "audit_type", auditType, "records", len(records), "error", err)
	} else {
		p.observer.Persisted(auditType, len(records), latency)
	}
	p.logger.Debug("audit stage", "audit_type", auditType, "stage", StagePersisted, "records", len(records))

	return result, nil
}
