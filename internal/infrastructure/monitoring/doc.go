/*
Package monitoring provides Prometheus metrics for the bridge.

# Overview

Metrics cover the HTTP surface, channel traffic, pending sessions, evaluation
outcomes, proxied fetches and sockets, and guest console output. All
collectors register against a caller-supplied prometheus.Registerer so tests
and embedded hosts can keep their own registries.

Every recording method is safe on a nil *Metrics.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))

	registry := session.NewRegistry[T]("eval",
		session.WithObserver(metrics.PendingObserver("eval")))

	timer := monitoring.NewFetchTimer(metrics, "GET")
	// ... perform fetch ...
	timer.Stop("200")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
