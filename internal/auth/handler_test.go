package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-scm/meridian-scm/internal/shared"
)

type fakeRepo struct {
	users    map[string]*User
	sessions map[string]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[string]*User{}, sessions: map[string]int64{}}
}

func (f *fakeRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return user, nil
}

func (f *fakeRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	f.sessions[id] = userID
	return nil
}

func (f *fakeRepo) DeleteSession(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func seedUser(t *testing.T, repo *fakeRepo, email, password string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo.users[email] = &User{ID: 1, Email: email, PasswordHash: string(hash), IsActive: active}
}

func TestAuthenticate(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", true)
	svc := NewService(repo)

	user, err := svc.Authenticate(context.Background(), "ops@example.com", "secret-pass")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", true)
	svc := NewService(repo)

	_, err := svc.Authenticate(context.Background(), "ops@example.com", "wrong-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", false)
	svc := NewService(repo)

	_, err := svc.Authenticate(context.Background(), "ops@example.com", "secret-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestHandleLoginValidation(t *testing.T) {
	h := NewHandler(testLogger(), NewService(newFakeRepo()), nil)

	body := `{"email":"not-an-email","password":"short"}`
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLogin(rec, r)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLoginBadCredentials(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", true)
	h := NewHandler(testLogger(), NewService(repo), nil)

	body := `{"email":"ops@example.com","password":"wrong-password"}`
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLogin(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLoginWithoutSession(t *testing.T) {
	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", true)
	h := NewHandler(testLogger(), NewService(repo), nil)

	body := `{"email":"ops@example.com","password":"secret-pass"}`
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleLogin(rec, r)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleLoginSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "meridian_session", "test-secret", time.Hour, false)

	repo := newFakeRepo()
	seedUser(t, repo, "ops@example.com", "secret-pass", true)
	h := NewHandler(testLogger(), NewService(repo), sessions)

	body := `{"email":"ops@example.com","password":"secret-pass"}`
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	sess, err := sessions.Load(r.Context(), r)
	require.NoError(t, err)
	r = r.WithContext(shared.ContextWithSession(r.Context(), sess))

	rec := httptest.NewRecorder()
	h.handleLogin(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1", sess.User())
	require.Contains(t, repo.sessions, sess.ID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
