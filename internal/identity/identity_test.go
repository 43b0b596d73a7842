package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vidsync-labs/internal/domain"
)

type memUsers struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	touches int
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.UserID] = &cp
	return nil
}

func (m *memUsers) UpdateLastSeen(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	m.users[id].LastSeenAt = t
	return nil
}

func TestMiddlewareIssuesCookieAndSession(t *testing.T) {
	t.Parallel()
	repo := newMemUsers()

	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("unexpected user id %q", gotUser)
	}
	if gotSession != "tab-42" {
		t.Fatalf("session = %q", gotSession)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if u, _ := repo.GetUser(context.Background(), gotUser); u == nil || !strings.HasPrefix(u.Username, "anon-") {
		t.Fatalf("expected user to be created, got %+v", u)
	}

	// Same cookie keeps the same identity.
	req2 := httptest.NewRequest(http.MethodGet, "/api/me?session_id=bad%20id", nil)
	req2.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req2)
	if gotSession != DefaultSessionIDValue {
		t.Fatalf("invalid session id must fall back, got %q", gotSession)
	}
	if len(repo.users) != 1 {
		t.Fatalf("expected one user, got %d", len(repo.users))
	}
}

func TestEnsureUserRefreshesLastSeenSparingly(t *testing.T) {
	t.Parallel()
	repo := newMemUsers()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	if err := ensureUser(ctx, repo, "anon_x", now); err != nil {
		t.Fatalf("ensureUser: %v", err)
	}
	if err := ensureUser(ctx, repo, "anon_x", now.Add(10*time.Second)); err != nil {
		t.Fatalf("ensureUser: %v", err)
	}
	if repo.touches != 0 {
		t.Fatalf("expected no last-seen write within resolution, got %d", repo.touches)
	}
	if err := ensureUser(ctx, repo, "anon_x", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("ensureUser: %v", err)
	}
	if repo.touches != 1 {
		t.Fatalf("expected one last-seen write, got %d", repo.touches)
	}
}

func TestWithIdentitySanitizesSession(t *testing.T) {
	t.Parallel()
	ctx := WithIdentity(context.Background(), "anon_0123456789abcdef0123456789abcdef", "")
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Fatalf("session = %q", SessionIDFromContext(ctx))
	}
	if UsernameFromContext(ctx) != "anon-89abcdef" {
		t.Fatalf("username = %q", UsernameFromContext(ctx))
	}
}

func TestMiddlewareReplacesMalformedCookie(t *testing.T) {
	t.Parallel()
	repo := newMemUsers()

	var got Identity
	h := Middleware(repo, false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/interaction?session_id=tab-7", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_not-hex"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(got.UserID) || got.SessionID != "tab-7" {
		t.Fatalf("unexpected identity %+v", got)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != got.UserID || !cookies[0].Secure {
		t.Fatalf("expected a fresh secure cookie, got %+v", cookies)
	}
}

func TestFromContextWithoutIdentity(t *testing.T) {
	t.Parallel()
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity")
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty user id")
	}
	if SessionIDFromContext(context.Background()) != DefaultSessionIDValue {
		t.Fatal("expected default session")
	}
}
