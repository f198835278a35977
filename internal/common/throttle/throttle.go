// internal/common/throttle/throttle.go
package throttle

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dynamic-site-maker/internal/common/errors"
	"dynamic-site-maker/internal/common/logger"
	"dynamic-site-maker/internal/common/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	SubmittedValue = "submitted"

	ReasonCookie = "cookie"
	ReasonIP     = "ip"
)

type Config struct {
	CookieName    string
	RetentionDays int
	RedisKey      string
	TrackIP       bool
}

func DefaultConfig() Config {
	return Config{
		CookieName:    "dsmk_submission_status",
		RetentionDays: 30,
		RedisKey:      "dsmk:ip_submissions",
	}
}

// Visitor identifies a submitter independently of the transport.
type Visitor struct {
	IP        string
	Submitted bool // the submission cookie is present
}

// Throttle enforces one landing page submission per visitor. IP tracking
// stores ip -> unix time in a redis hash and is skipped when TrackIP is off
// or no redis client is configured.
type Throttle struct {
	config Config
	redis  *redis.Client
	logger logger.Logger
	now    func() time.Time
}

func New(config Config, redisClient *redis.Client, log logger.Logger) *Throttle {
	def := DefaultConfig()
	if config.CookieName == "" {
		config.CookieName = def.CookieName
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = def.RetentionDays
	}
	if config.RedisKey == "" {
		config.RedisKey = def.RedisKey
	}
	return &Throttle{config: config, redis: redisClient, logger: log, now: time.Now}
}

// VisitorFromRequest reads the submission cookie and the client IP.
func (t *Throttle) VisitorFromRequest(r *http.Request) Visitor {
	v := Visitor{IP: ClientIP(r)}
	if c, err := r.Cookie(t.config.CookieName); err == nil && c.Value == SubmittedValue {
		v.Submitted = true
	}
	return v
}

// ClientIP prefers CF-Connecting-IP, then the first X-Forwarded-For entry,
// then the connection's remote address.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Check returns SUBMISSION_THROTTLED when the visitor has already submitted.
func (t *Throttle) Check(ctx context.Context, v Visitor) error {
	if v.Submitted {
		metrics.SubmissionsThrottled.WithLabelValues(ReasonCookie).Inc()
		return errors.NewSubmissionThrottledError(ReasonCookie)
	}
	if !t.ipTracking() || v.IP == "" {
		return nil
	}

	seen, err := t.redis.HExists(ctx, t.config.RedisKey, v.IP).Result()
	if err != nil {
		// a redis outage must not block submissions
		t.logger.Warn("ip submission lookup failed", map[string]interface{}{"error": err})
		return nil
	}
	if seen {
		metrics.SubmissionsThrottled.WithLabelValues(ReasonIP).Inc()
		return errors.NewSubmissionThrottledError(ReasonIP)
	}
	return nil
}

// MarkSubmitted records the visitor's IP and prunes entries past retention.
func (t *Throttle) MarkSubmitted(ctx context.Context, v Visitor) error {
	if !t.ipTracking() || v.IP == "" {
		return nil
	}
	now := t.now()
	if err := t.redis.HSet(ctx, t.config.RedisKey, v.IP, now.Unix()).Err(); err != nil {
		return fmt.Errorf("record submission ip: %w", err)
	}
	return t.prune(ctx, now)
}

// Reset forgets the visitor's IP.
func (t *Throttle) Reset(ctx context.Context, v Visitor) error {
	if !t.ipTracking() || v.IP == "" {
		return nil
	}
	if err := t.redis.HDel(ctx, t.config.RedisKey, v.IP).Err(); err != nil {
		return fmt.Errorf("reset submission ip: %w", err)
	}
	return nil
}

func (t *Throttle) prune(ctx context.Context, now time.Time) error {
	entries, err := t.redis.HGetAll(ctx, t.config.RedisKey).Result()
	if err != nil {
		return fmt.Errorf("read submission ips: %w", err)
	}

	cutoff := now.Add(-time.Duration(t.config.RetentionDays) * 24 * time.Hour).Unix()
	var stale []string
	for ip, ts := range entries {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || n < cutoff {
			stale = append(stale, ip)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := t.redis.HDel(ctx, t.config.RedisKey, stale...).Err(); err != nil {
		return fmt.Errorf("prune submission ips: %w", err)
	}
	t.logger.Debug("pruned submission ips", map[string]interface{}{"count": len(stale)})
	return nil
}

func (t *Throttle) ipTracking() bool {
	return t.config.TrackIP && t.redis != nil
}

// SetCookie marks the browser as having submitted.
func (t *Throttle) SetCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.config.CookieName,
		Value:    SubmittedValue,
		Path:     "/",
		Expires:  t.now().Add(time.Duration(t.config.RetentionDays) * 24 * time.Hour),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the submission cookie.
func (t *Throttle) ClearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     t.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
}
