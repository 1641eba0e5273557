// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the transport side of idempotent mutations. The
// validator checks the Idempotency-Key header shape, stashes the key in the
// Gin context and, for routes that have a ledger scope, asks a lookup whether
// the key already has a completed outcome. Completed keys are marked as
// replays so the rate limiter lets them through: a retry that will be
// answered from the ledger costs nothing to serve.
//
// The middleware never answers a request itself. Deduplication and the
// replayed payload belong to the service layer; this file only keeps
// malformed keys away from it.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the caller's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from the
// idempotency ledger.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: completed outcome exists
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the lookup found a completed outcome for the key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// ScopeFunc maps a request to its ledger scope. ok=false means the route
// has no ledger and the lookup is skipped.
type ScopeFunc func(c *gin.Context) (scope string, ok bool)

// IdempotencyLookup reports whether (scope, key) already has a completed,
// unexpired outcome at now. Errors are treated as "unknown" and never block
// the request.
type IdempotencyLookup func(ctx context.Context, scope, key string, now time.Time) (completed bool, err error)

func (o IdempotencyOptions) normalize() (int, *regexp.Regexp) {
	maxLen := o.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := o.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	return maxLen, pat
}

// IdempotencyValidator validates an Idempotency-Key when present and marks
// completed keys as replays.
//
// Behavior:
//   - header absent: no-op (routes that need a key use RequireIdempotencyKey)
//   - header malformed: 400 bad_idempotency_key
//   - scope(c) ok and lookup reports completed: replay + rate bypass flags
func IdempotencyValidator(opts IdempotencyOptions, scope ScopeFunc, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen, pat := opts.normalize()

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortIdempotency(c, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if scope != nil && lookup != nil {
			if sc, ok := scope(c); ok {
				if done, err := lookup(c.Request.Context(), sc, key, time.Now().UTC()); err == nil && done {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}

// RequireIdempotencyKey rejects requests that reach a route without a
// validated Idempotency-Key. Mount it per route after IdempotencyValidator.
func RequireIdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); !ok {
			abortIdempotency(c, "idempotency_key_required", "Idempotency-Key header is required")
			return
		}
		c.Next()
	}
}

// abortIdempotency writes the standard error envelope. A bad key is never
// fixed by retrying the same request.
func abortIdempotency(c *gin.Context, code, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
		"retry":      "never",
	})
}
