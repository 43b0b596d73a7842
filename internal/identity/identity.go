// Package identity resolves the anonymous learner behind a request and the
// browser tab it comes from.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/vidsync-labs/internal/domain"
)

const (
	AnonCookieName        = "vidsync_anon_id"
	SessionHeaderName     = "X-Session-ID"
	DefaultSessionIDValue = "default"

	anonPrefix   = "anon_"
	cookieMaxAge = 30 * 24 * time.Hour

	// lastSeenResolution limits last-seen writes to one per interval.
	lastSeenResolution = time.Minute
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is who is asking and from which tab.
type Identity struct {
	UserID    string
	Username  string
	SessionID string
}

type ctxKey struct{}

// UserStore is the persistence the middleware needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// FromContext returns the identity attached by Middleware or WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the learner id, or "" for anonymous requests
// that never passed the middleware.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

func UsernameFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.Username
}

// SessionIDFromContext returns the tab session, DefaultSessionIDValue when
// none was sent.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

// WithIdentity attaches the identity for userID and the tab sessionID.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{
		UserID:    userID,
		Username:  usernameFor(userID),
		SessionID: normalizeSession(sessionID),
	})
}

func newAnonID() string {
	return anonPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func normalizeSession(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// usernameFor shows the tail of the id, which is enough to tell learners
// apart in logs and transcripts.
func usernameFor(userID string) string {
	const tail = 8
	if len(userID) <= len(anonPrefix)+tail {
		return "anon-user"
	}
	return "anon-" + userID[len(userID)-tail:]
}

// ensureUser creates the user on first sight and otherwise refreshes its
// last-seen time.
func ensureUser(ctx context.Context, repo UserStore, userID string, now time.Time) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			Username:   usernameFor(userID),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if now.Sub(user.LastSeenAt) < lastSeenResolution {
		return nil
	}
	if err := repo.UpdateLastSeen(ctx, userID, now); err != nil {
		slog.Warn("Failed to update last seen", "user_id", userID, "error", err)
	}
	return nil
}

// anonID returns the device id from the cookie, minting one when it is
// missing or malformed. The cookie is re-issued either way to slide its
// expiry.
func anonID(w http.ResponseWriter, r *http.Request, secure bool) string {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id = newAnonID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id
}

// sessionFromRequest reads the tab id from the header, or from the query
// for transports that cannot set headers (WebSocket, EventSource).
func sessionFromRequest(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	return r.URL.Query().Get("session_id")
}

// Middleware attaches the anonymous learner and tab session to every
// request, creating the learner on first sight.
func Middleware(repo UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := anonID(w, r, !isDev)
			if err := ensureUser(r.Context(), repo, userID, time.Now()); err != nil {
				slog.Error("Failed to initialize anonymous user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, sessionFromRequest(r))))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
