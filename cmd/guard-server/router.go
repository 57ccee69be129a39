package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manenim/gateway-guard/pkg/middleware"
	ginmiddleware "github.com/manenim/gateway-guard/pkg/middleware/gin"
)

func newRouter(svc *services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := svc.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if svc.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(ginmiddleware.RateLimit(svc.limiter, nil, ginmiddleware.Options{
		Namespace: "api",
		Limit:     svc.cfg.RateLimitPolicy(),
		KeyHeader: svc.cfg.RateKeyHeader,
		FailOpen:  svc.cfg.RateFailOpen,
		Logger:    svc.logger,
	}))

	api.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong\n")
	})

	api.POST("/orders/:id/ship",
		ginmiddleware.Locked(svc.locks, ginmiddleware.ParamKey("id"), ginmiddleware.LockOptions{
			TTL:         svc.cfg.LockTTL,
			WaitTimeout: svc.cfg.LockWait,
			Logger:      svc.logger,
		}),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"order": c.Param("id"), "status": "shipped", "at": time.Now().UTC()})
		})

	api.GET("/locks/:key", func(c *gin.Context) {
		held, ttl, err := svc.locks.Inspect(c.Request.Context(), c.Param("key"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, middleware.ErrorBody("lock service unavailable"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "held": held, "ttl_ms": ttl.Milliseconds()})
	})

	payments := middleware.Idempotent(svc.guard, middleware.IdempotentOptions{
		Operation:  "create-payment",
		CallerFunc: middleware.DefaultKeyFunc(svc.cfg.RateKeyHeader),
		Required:   true,
		Logger:     svc.logger,
	})(http.HandlerFunc(createPayment))
	api.POST("/payments", gin.WrapH(payments))

	return router
}

func createPayment(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"payment":"` + newPaymentID() + `","status":"accepted"}` + "\n"))
}
