/*
Package monitoring provides Prometheus metrics for the gateway.

# Overview

Metrics cover HTTP requests, supervised application instances, sessions,
stream fan-out, capture, input injection, coordinator operations and the
lifecycle event pipeline.

# Usage

	// Create metrics collector on its own registry
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg)

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time operations
	timer := monitoring.NewTimer(metrics, "gateway", "start_application")
	// ... perform operation ...
	timer.StopErr(err)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
