package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/quota"
	"github.com/your-org/guestlens/internal/ratelimit"
	"github.com/your-org/guestlens/internal/validate"
	"github.com/your-org/guestlens/pkg/metrics"
)

const tracerName = "github.com/your-org/guestlens/internal/pipeline"

// Step is one stage of the pipeline. Each step contributes to the shared
// Diagnostics; none returns early on its own.
type Step struct {
	Name string
	// Gate ends the pipeline after this step when any error has been
	// recorded so far. Only structural checks are gates.
	Gate bool
	Run  func(ctx context.Context, c *media.Candidate, d *media.Diagnostics)
}

// Params wires the orchestrator's collaborators.
type Params struct {
	Signature *validate.SignatureValidator
	Inspector *validate.ContentInspector
	Scanner   *validate.PatternScanner
	Limiter   *ratelimit.Limiter
	Quota     *quota.Enforcer
	Metrics   *metrics.Registry
	Logger    *zap.Logger
}

// Orchestrator evaluates candidates through a fixed sequence of steps and
// returns one aggregated report.
type Orchestrator struct {
	steps   []Step
	metrics *metrics.Registry
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New builds the pipeline: signature, content, pattern scan, rate limit,
// quota. The first two are gates.
func New(p Params) *Orchestrator {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		metrics: p.Metrics,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
	o.steps = []Step{
		{Name: "signature", Gate: true, Run: signatureStep(p.Signature)},
		{Name: "content", Gate: true, Run: contentStep(p.Inspector)},
		{Name: "patterns", Run: patternStep(p.Scanner)},
		{Name: "rate_limit", Run: rateLimitStep(p.Limiter, p.Metrics)},
		{Name: "quota", Run: quotaStep(p.Quota, p.Metrics)},
	}
	return o
}

// NewWithSteps builds an orchestrator over custom steps.
func NewWithSteps(steps []Step, m *metrics.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{steps: steps, metrics: m, logger: logger, tracer: otel.Tracer(tracerName)}
}

// Evaluate runs c through the pipeline. A candidate can be evaluated only once.
func (o *Orchestrator) Evaluate(ctx context.Context, c *media.Candidate) (media.Report, error) {
	if err := c.Consume(); err != nil {
		return media.Report{}, err
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("event.id", c.EventID),
		attribute.String("media.kind", string(c.Kind)),
		attribute.String("media.declared_type", c.DeclaredMIME),
		attribute.Int64("media.size", c.Size()),
	))
	defer span.End()

	var d media.Diagnostics
	ran := 0
	for _, step := range o.steps {
		o.runStep(ctx, step, c, &d)
		ran++
		if step.Gate && d.HasErrors() {
			break
		}
	}

	report := d.Report()
	o.record(c, report)

	span.SetAttributes(
		attribute.Bool("ingest.accepted", report.Accepted),
		attribute.Int("ingest.errors", len(report.Errors)),
		attribute.Int("ingest.warnings", len(report.Warnings)),
		attribute.Int("ingest.steps_run", ran),
	)
	if !report.Accepted {
		span.SetStatus(otelcodes.Error, report.FirstError().Code)
	}

	fields := []zap.Field{
		zap.String("event_id", c.EventID),
		zap.String("caller_id", c.CallerID),
		zap.String("declared_type", c.DeclaredMIME),
		zap.Int64("size_bytes", c.Size()),
		zap.Bool("accepted", report.Accepted),
		zap.Int("warnings", len(report.Warnings)),
	}
	if first := report.FirstError(); first != nil {
		fields = append(fields, zap.String("reason", first.Code), zap.Int("errors", len(report.Errors)))
	}
	o.logger.Info("upload evaluated", fields...)

	return report, nil
}

// runStep executes one step, converting a panic into a generic rejection.
func (o *Orchestrator) runStep(ctx context.Context, step Step, c *media.Candidate, d *media.Diagnostics) {
	ctx, span := o.tracer.Start(ctx, "pipeline."+step.Name)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline step panicked",
				zap.String("step", step.Name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			d.AddError(&media.Error{
				Kind:    media.ErrInternal,
				Code:    media.CodeValidatorFailure,
				Message: "the upload could not be validated",
				Err:     fmt.Errorf("step %s panicked: %v", step.Name, r),
			})
			span.SetStatus(otelcodes.Error, "panic")
		}
		o.metrics.ObserveStep(step.Name, time.Since(start))
		span.End()
	}()
	step.Run(ctx, c, d)
}

func (o *Orchestrator) record(c *media.Candidate, r media.Report) {
	kind, ok := media.KindOf(c.DeclaredMIME)
	if !ok {
		kind = "unknown"
	}
	o.metrics.ObserveDecision(string(kind), r.Accepted, c.Size())
	for _, e := range r.Errors {
		o.metrics.ObserveIssue("error", string(e.Kind), e.Code)
	}
	for _, w := range r.Warnings {
		o.metrics.ObserveIssue("warning", string(w.Kind), w.Code)
	}
}
