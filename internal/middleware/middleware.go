// Package middleware provides HTTP middleware for the analyzer API
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repo-analyzer/analyzer/pkg/errors"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

const requestIDKey = "request_id"

// Limiter decides whether a request keyed by client may proceed
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// RequestObserver records finished requests
type RequestObserver interface {
	ObserveRequest(method, route string, status int, duration time.Duration)
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}

		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// GetRequestIDFromContext extracts request ID from gin context
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// CORS middleware for handling Cross-Origin Resource Sharing
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Logger logs every request once it has been handled. When observer is
// non-nil the request is also recorded there, labelled by route pattern.
func Logger(logger *utils.Logger, observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		logger.LogAPIResponse(GetRequestIDFromContext(c), c.Request.Method, c.Request.URL.Path, status, duration)

		if observer != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			observer.ObserveRequest(c.Request.Method, route, status, duration)
		}
	}
}

// Recovery turns panics into a 500 error envelope
func Recovery(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithRequestID(GetRequestIDFromContext(c)).
					WithField("panic", fmt.Sprint(r)).
					Error("Recovered from panic")
				Abort(c, errors.New(errors.ErrInternalServer, "Internal server error"))
			}
		}()
		c.Next()
	}
}

// RateLimit enforces limit requests per window for each client IP
func RateLimit(limiter Limiter, limit int64, window time.Duration, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			// fail open
			logger.WithError(err).Error("Rate limit check failed")
			c.Next()
			return
		}

		if !allowed {
			logger.WithRequestID(GetRequestIDFromContext(c)).
				WithField("client_ip", c.ClientIP()).
				Warn("Rate limit exceeded")
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			Abort(c, errors.New(errors.ErrRateLimited, "Rate limit exceeded"))
			return
		}

		c.Next()
	}
}

// Abort writes the standard error envelope and stops the chain
func Abort(c *gin.Context, err *errors.APIError) {
	c.AbortWithStatusJSON(err.HTTPStatusCode, gin.H{"error": err})
}
