// endpoint_ratelimit.go - Tighter limits for credential and upload routes.
package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quarantine-drop/internal/auth"
)

// EndpointLimits caps the sensitive routes on top of the general limiter.
// Zero fields take the defaults.
type EndpointLimits struct {
	// AuthPerMinute applies to /register and /login, keyed by client IP.
	AuthPerMinute int
	// UploadsPerHour applies to /upload, keyed by username.
	UploadsPerHour int
}

func DefaultEndpointLimits() EndpointLimits {
	return EndpointLimits{AuthPerMinute: 10, UploadsPerHour: 60}
}

type endpointLimiters struct {
	auth   *rateLimiter
	upload *rateLimiter
}

func newEndpointLimiters(l EndpointLimits) endpointLimiters {
	def := DefaultEndpointLimits()
	if l.AuthPerMinute <= 0 {
		l.AuthPerMinute = def.AuthPerMinute
	}
	if l.UploadsPerHour <= 0 {
		l.UploadsPerHour = def.UploadsPerHour
	}
	return endpointLimiters{
		auth:   newRateLimiter(l.AuthPerMinute, time.Minute),
		upload: newRateLimiter(l.UploadsPerHour, time.Hour),
	}
}

// limitAuth throttles credential guessing per client IP. The account
// lockout in auth covers guessing against a single username.
func (s *Server) limitAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.endpoints.auth.allow(ip) {
			s.audit.Warn("rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", r.URL.Path),
				zap.String("limit_type", "authentication"),
			)
			rejectRateLimited(w, s.endpoints.auth, "authentication")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitUploads runs after authorization, so anonymous requests never spend
// a user's budget.
func (s *Server) limitUploads(next identityHandler) identityHandler {
	return func(w http.ResponseWriter, r *http.Request, id auth.Identity) error {
		if !s.endpoints.upload.allow(id.Username) {
			s.audit.Warn("rate limit exceeded",
				zap.String("user", id.Username),
				zap.String("limit_type", "upload"),
			)
			rejectRateLimited(w, s.endpoints.upload, "upload")
			return nil
		}
		return next(w, r, id)
	}
}

func rejectRateLimited(w http.ResponseWriter, rl *rateLimiter, limitType string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
	w.Header().Set("X-RateLimit-Limit-Type", limitType)
	writeJSON(w, http.StatusTooManyRequests, jMap{"message": "Rate limit exceeded for " + limitType + ". Please try again later."})
}
