package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/afm-storefront/api/responses"
	pkgerrors "github.com/angelmondragon/afm-storefront/pkg/errors"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

const maxPeekBytes = 64 << 10

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// KeyFunc derives a counter key from the request and its buffered body.
// An empty key skips the rule for that request.
type KeyFunc func(r *http.Request, body []byte) string

// RateRule is one counter inside a policy.
type RateRule struct {
	Scope string
	Limit int
	Key   KeyFunc
	// NeedsBody makes the middleware buffer the request body for Key.
	NeedsBody bool
}

// RatePolicy groups the rules sharing one fixed window.
type RatePolicy struct {
	Name   string
	Window time.Duration
	Rules  []RateRule
}

func (p RatePolicy) active() []RateRule {
	if p.Window <= 0 {
		return nil
	}
	out := make([]RateRule, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.Limit > 0 && rule.Key != nil {
			out = append(out, rule)
		}
	}
	return out
}

// LoginPolicy throttles credential endpoints by client IP and by the hashed
// email in the JSON body.
func LoginPolicy(name string, window time.Duration, ipLimit, emailLimit int) RatePolicy {
	return RatePolicy{
		Name:   name,
		Window: window,
		Rules: []RateRule{
			{Scope: "ip", Limit: ipLimit, Key: ClientIPKey},
			{Scope: "email", Limit: emailLimit, Key: JSONFieldKey("email", true), NeedsBody: true},
		},
	}
}

// CheckoutPolicy throttles checkout attempts by client IP and by cart.
func CheckoutPolicy(window time.Duration, ipLimit, cartLimit int) RatePolicy {
	return RatePolicy{
		Name:   "checkout",
		Window: window,
		Rules: []RateRule{
			{Scope: "ip", Limit: ipLimit, Key: ClientIPKey},
			{Scope: "cart", Limit: cartLimit, Key: JSONFieldKey("cartId", false), NeedsBody: true},
		},
	}
}

// RateLimit counts each matching rule in a fixed window and answers 429 with
// Retry-After once any rule is over its limit.
func RateLimit(policy RatePolicy, store windowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	rules := policy.active()
	return func(next http.Handler) http.Handler {
		if len(rules) == 0 || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			body, err := peekBody(r, rules)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}

			for _, rule := range rules {
				key := rule.Key(r, body)
				if key == "" {
					continue
				}
				scope := strings.Join([]string{policy.Name, rule.Scope, key}, ":")
				allowed, count, err := store.FixedWindowAllow(ctx, scope, int64(rule.Limit), policy.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !allowed {
					rejectRateLimited(ctx, logg, w, policy, rule, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peekBody buffers the body when a rule reads it and restores r.Body.
func peekBody(r *http.Request, rules []RateRule) ([]byte, error) {
	needed := false
	for _, rule := range rules {
		needed = needed || rule.NeedsBody
	}
	if !needed || r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	if err != nil {
		return nil, err
	}
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if len(body) > maxPeekBytes {
		return nil, nil
	}
	return body, nil
}

func rejectRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RatePolicy, rule RateRule, count int64) {
	retryAfter := int(math.Ceil(policy.Window.Seconds()))
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":         policy.Name,
			"scope":          rule.Scope,
			"attempts":       count,
			"limit":          rule.Limit,
			"window_seconds": retryAfter,
		}), "rate limit exceeded")
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
		WithDetails(map[string]any{"scope": rule.Scope}))
}

// ClientIPKey prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func ClientIPKey(r *http.Request, _ []byte) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// JSONFieldKey keys on a top-level string field of the JSON body. With hash
// set the lowercased value is stored as a sha256 digest.
func JSONFieldKey(field string, hash bool) KeyFunc {
	return func(_ *http.Request, body []byte) string {
		if len(body) == 0 {
			return ""
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return ""
		}
		var value string
		if err := json.Unmarshal(fields[field], &value); err != nil {
			return ""
		}
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" || !hash {
			return value
		}
		sum := sha256.Sum256([]byte(value))
		return hex.EncodeToString(sum[:])
	}
}
