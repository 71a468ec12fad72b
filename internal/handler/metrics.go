package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRouter builds the router for the metrics listener. /metrics always
// answers 200 regardless of chain health; readiness lives on the health port.
func MetricsRouter(registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	router.GET("/metrics", gin.WrapH(handler))

	return router
}

// HealthRouter builds the router for the health listener.
func HealthRouter(h *HealthHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	h.Register(router)
	return router
}
