// Package metrics exports upload and listing metrics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation names used as label values.
const (
	OpUpload = "upload"
	OpList   = "list"
)

// Observer records media store operations.
type Observer struct {
	duration      *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

// NewObserver registers the media metrics on reg (the default registerer when nil).
// Registering twice on the same registerer reuses the existing collectors.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "imagevault"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_operation_duration_seconds",
			Help:      "Latency of calls to the media store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_operation_failures_total",
			Help:      "Failed media store calls by operation and reason.",
		}, []string{"operation", "reason"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_uploaded_bytes_total",
			Help:      "Bytes successfully handed to the media store.",
		}),
	}

	var err error
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, fmt.Errorf("register duration histogram: %w", err)
	}
	if o.failures, err = register(reg, o.failures); err != nil {
		return nil, fmt.Errorf("register failure counter: %w", err)
	}
	if o.uploadedBytes, err = register(reg, o.uploadedBytes); err != nil {
		return nil, fmt.Errorf("register uploaded bytes counter: %w", err)
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records one operation. reason is empty on success.
// A nil Observer is a no-op.
func (o *Observer) Observe(op string, started time.Time, reason string) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if reason != "" {
		o.failures.WithLabelValues(op, reason).Inc()
	}
}

// AddUploadedBytes adds n to the uploaded bytes counter.
func (o *Observer) AddUploadedBytes(n int64) {
	if o == nil || n <= 0 {
		return
	}
	o.uploadedBytes.Add(float64(n))
}
