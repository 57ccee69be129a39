package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/manenim/gateway-guard/pkg/limiter"
)

type errorBody struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ErrorBody is the JSON payload written with every rejection.
func ErrorBody(message string) any {
	return errorBody{Error: message, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody(message))
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(h http.Header, d limiter.Decision) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
