// Package cerberus enforces classifier verdicts inline: it turns an HTTP
// request into a threat.RequestEvent, classifies it and either lets it
// through, blocks it or answers with a honeypot decoy.
package cerberus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/dexra46515/apex-app-shield-sub000/internal/api/middleware"
	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

const (
	// DefaultMaxBody is how much of a request body is inspected.
	DefaultMaxBody = 64 << 10

	ModeBlock   = "block"
	ModeMonitor = "monitor"

	// VerdictKey holds the *threat.Verdict in the gin context for downstream handlers.
	VerdictKey = "shield.verdict"

	sessionCookie = "session_id"
)

// Headers that never leave the process in an event.
var droppedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Cookie":              {},
	"Proxy-Authorization": {},
}

// Classifier produces a verdict for one event.
type Classifier interface {
	Classify(ctx context.Context, ev *threat.RequestEvent) (*threat.Verdict, error)
}

// Options tune extraction and enforcement.
type Options struct {
	// Mode is ModeBlock (default) or ModeMonitor, which never interferes.
	Mode string
	// JWTSecret verifies bearer tokens; the subject becomes the user id.
	// Empty means the X-User-ID header is trusted instead.
	JWTSecret []byte
	MaxBody   int64
}

// Cerberus is the inline guard.
type Cerberus struct {
	classifier Classifier
	opts       Options
}

// New creates a new Cerberus instance
func New(classifier Classifier, opts Options) *Cerberus {
	if opts.Mode == "" {
		opts.Mode = ModeBlock
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	return &Cerberus{classifier: classifier, opts: opts}
}

// Monitoring reports whether verdicts are only logged.
func (c *Cerberus) Monitoring() bool {
	return strings.EqualFold(c.opts.Mode, ModeMonitor)
}

// EventFromRequest extracts the classifier input from r. clientIP is the
// already-resolved client address (gin's ClientIP honours trusted proxies).
// The inspected body prefix is put back so the request can still be proxied.
func (c *Cerberus) EventFromRequest(r *http.Request, clientIP string) (*threat.RequestEvent, error) {
	ev := &threat.RequestEvent{
		SourceAddress:      clientIP,
		DestinationAddress: r.Host,
		UserAgent:          r.UserAgent(),
		Method:             r.Method,
		Path:               r.URL.RequestURI(),
		Headers:            make(map[string]string, len(r.Header)),
		CountryCode:        strings.ToUpper(firstHeader(r, "CF-IPCountry", "X-Country-Code")),
		ASN:                r.Header.Get("X-ASN"),
		SessionID:          r.Header.Get("X-Session-ID"),
		DeviceFingerprint:  r.Header.Get("X-Device-Fingerprint"),
	}
	for k, vals := range r.Header {
		if _, drop := droppedHeaders[k]; drop || len(vals) == 0 {
			continue
		}
		ev.Headers[k] = vals[0]
	}
	if ev.SessionID == "" {
		if ck, err := r.Cookie(sessionCookie); err == nil {
			ev.SessionID = ck.Value
		}
	}
	ev.UserID = c.userID(r)

	if r.Body != nil && r.Body != http.NoBody {
		buf, err := io.ReadAll(io.LimitReader(r.Body, c.opts.MaxBody))
		if err != nil {
			return nil, err
		}
		ev.Body = string(buf)
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	}
	return ev, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func firstHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.Header.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

// userID returns the verified JWT subject, or the X-User-ID header when no
// secret is configured. A bad token yields no identity.
func (c *Cerberus) userID(r *http.Request) string {
	if len(c.opts.JWTSecret) == 0 {
		return r.Header.Get("X-User-ID")
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return ""
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return c.opts.JWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return ""
	}
	return claims.Subject
}

// Middleware returns a Gin middleware that classifies every request and
// enforces the verdict. Classification failures fail open.
func (c *Cerberus) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		log := logger.Component("cerberus").WithField("path", util.LogValue(ctx.Request.URL.Path))

		ev, err := c.EventFromRequest(ctx.Request, ctx.ClientIP())
		if err != nil {
			log.WithError(err).Warn("failed to read request, passing through")
			ctx.Next()
			return
		}
		if rid := middleware.GetRequestID(ctx); rid != "" {
			ev.ID = rid
		}

		verdict, err := c.classifier.Classify(ctx.Request.Context(), ev)
		if err != nil {
			if !errors.Is(err, threat.ErrInvalidEvent) {
				log.WithError(err).Error("classification failed, passing through")
			}
			ctx.Next()
			return
		}
		ctx.Set(VerdictKey, verdict)

		if c.Monitoring() {
			if verdict.Block {
				log.WithFields(logrus.Fields{
					"decision": "monitor",
					"severity": verdict.Severity.String(),
					"dominant": string(verdict.Dominant),
				}).Info("request would have been blocked")
			}
			ctx.Next()
			return
		}

		if d := verdict.Decoy; d != nil {
			ctx.Data(d.StatusCode, d.ContentType, []byte(d.Body))
			ctx.Abort()
			return
		}
		if verdict.Block {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "request blocked",
				"reason":     string(verdict.Dominant),
				"request_id": ev.ID,
			})
			return
		}
		ctx.Next()
	}
}
