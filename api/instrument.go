package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var allocationsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "allocation",
	Subsystem: "service",
	Name:      "allocations_count",
	Help:      "Number of successful allocations per sku",
}, []string{"sku"})

// register adds c to the default registry, reusing the instance that is
// already registered when the app is rebuilt.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}

// Instrumentation records per-endpoint request counts and latency.
func Instrumentation() fiber.Handler {
	counterVec := register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "request",
		Name:      "requests_count",
		Help:      "Number of requests per each endpoint",
	}, []string{"code", "method", "url"}))

	resTime := register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "allocation",
		Subsystem: "response",
		Name:      "response_time_hist",
		Help:      "Response duration in milliseconds",
	}))

	allocationsCounter = register(allocationsCounter)

	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		duration := float64(time.Since(start)) * 1e-6 // to millisecond

		status := strconv.Itoa(c.Response().StatusCode())
		counterVec.WithLabelValues(status, c.Method(), c.Path()).Inc()
		resTime.Observe(duration)
		return err
	}
}
