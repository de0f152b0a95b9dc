package wizard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var submitTracer = otel.Tracer("booking.internal.wizard.submit")

// DefaultSubmitTimeout bounds a single CreateRecord call.
const DefaultSubmitTimeout = 30 * time.Second

// Coordinator validates a finished session and hands it to the submission
// service, allowing at most one submission in flight.
type Coordinator struct {
	graph   *Graph
	store   *Store
	service SubmissionService
	timeout time.Duration
	metrics Metrics

	inFlight atomic.Bool
}

// NewCoordinator creates a coordinator for store.
func NewCoordinator(graph *Graph, store *Store, service SubmissionService, timeout time.Duration, metrics Metrics) *Coordinator {
	if service == nil {
		panic("wizard: submission service required")
	}
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Coordinator{graph: graph, store: store, service: service, timeout: timeout, metrics: metrics}
}

// InFlight reports whether a submission is pending.
func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

// Payload assembles the submission fields. Every non-terminal stage must be
// selected; otherwise a *ValidationError names the missing fields.
func (c *Coordinator) Payload() (Payload, error) {
	payload := make(Payload, c.graph.Len())
	verr := &ValidationError{}
	for _, st := range c.graph.stages {
		if st.Terminal {
			continue
		}
		sel, ok := c.store.Get(st.ID)
		if !ok {
			verr.Add(st.Field, "required")
			continue
		}
		payload[st.Field] = sel.Value
	}
	if !verr.Empty() {
		return nil, verr
	}
	return payload, nil
}

// Submit creates the record. A call made while another is pending returns
// ErrSubmissionInProgress without contacting the service. Failures leave the
// session intact so the user can correct and retry.
func (c *Coordinator) Submit(ctx context.Context) (*Confirmation, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSubmissionInProgress
	}
	defer c.inFlight.Store(false)

	payload, err := c.Payload()
	if err != nil {
		c.metrics.ObserveSubmission("incomplete", 0)
		return nil, err
	}

	ctx, span := submitTracer.Start(ctx, "wizard.submit")
	defer span.End()
	span.SetAttributes(attribute.Int("wizard.fields", len(payload)))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	conf, err := c.service.CreateRecord(ctx, payload)
	elapsed := time.Since(start).Seconds()
	if err == nil && conf == nil {
		err = errors.New("submission service returned no confirmation")
	}
	if err != nil {
		span.RecordError(err)
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.metrics.ObserveSubmission("rejected", elapsed)
			return nil, verr
		}
		c.metrics.ObserveSubmission("error", elapsed)
		var serr *ServerError
		if errors.As(err, &serr) {
			return nil, serr
		}
		return nil, &ServerError{Cause: err}
	}
	c.metrics.ObserveSubmission("created", elapsed)
	return conf, nil
}
