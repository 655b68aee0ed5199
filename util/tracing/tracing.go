// Package tracing starts OpenTelemetry spans together with the log lines and prometheus
// observations that usually accompany them.
package tracing

import (
	"context"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// UTracer starts spans on the globally registered tracer provider. With no provider
// registered the spans are no-ops but logging and metrics still happen.
type UTracer struct {
	tracer trace.Tracer
}

func Tracer(name string) *UTracer {
	return &UTracer{tracer: otel.Tracer(name)}
}

type options struct {
	tags       []attribute.KeyValue
	histograms []prometheus.Observer
	counters   []prometheus.Counter
	logger     ulogger.Logger
	logMessage string
	logArgs    []interface{}
}

type Option func(*options)

// WithTag adds a string attribute to the span.
func WithTag(key, value string) Option {
	return func(o *options) {
		o.tags = append(o.tags, attribute.String(key, value))
	}
}

// WithHistogram observes the span duration in seconds when it ends.
func WithHistogram(h prometheus.Observer) Option {
	return func(o *options) {
		o.histograms = append(o.histograms, h)
	}
}

// WithCounter increments c when the span starts.
func WithCounter(c prometheus.Counter) Option {
	return func(o *options) {
		o.counters = append(o.counters, c)
	}
}

// WithLogMessage logs the message at debug level on start, and again with the duration
// and any error when the span ends.
func WithLogMessage(logger ulogger.Logger, format string, args ...interface{}) Option {
	return func(o *options) {
		o.logger = logger
		o.logMessage = format
		o.logArgs = args
	}
}

// Start opens a span named name. The returned function ends it, the first non-nil error
// passed to it marks the span as failed.
func (u *UTracer) Start(ctx context.Context, name string, opts ...Option) (context.Context, trace.Span, func(...error)) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctx, span := u.tracer.Start(ctx, name, trace.WithAttributes(o.tags...))

	for _, c := range o.counters {
		c.Inc()
	}

	if o.logger != nil {
		o.logger.Debugf(o.logMessage, o.logArgs...)
	}

	start := time.Now()

	return ctx, span, func(errs ...error) {
		elapsed := time.Since(start)

		var err error

		for _, e := range errs {
			if e != nil {
				err = e
				break
			}
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		for _, h := range o.histograms {
			h.Observe(elapsed.Seconds())
		}

		if o.logger != nil {
			msg := o.logMessage + " DONE in %s"
			args := append(append([]interface{}{}, o.logArgs...), elapsed)

			if err != nil {
				o.logger.Warnf(msg+" with error: %v", append(args, err)...)
			} else {
				o.logger.Debugf(msg, args...)
			}
		}

		span.End()
	}
}
