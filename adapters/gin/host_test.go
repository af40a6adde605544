package accessgin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/accesskit/core"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/PaulFidika/accesskit/identity"
	"github.com/PaulFidika/accesskit/intents"
	jwtkit "github.com/PaulFidika/accesskit/jwt"
	"github.com/PaulFidika/accesskit/lang"
	memorylimiter "github.com/PaulFidika/accesskit/ratelimit/memory"
	memorystore "github.com/PaulFidika/accesskit/storage/memory"
	acctest "github.com/PaulFidika/accesskit/testing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789abcdef")

type fakeProfiles struct {
	mu      sync.Mutex
	courses map[uuid.UUID][]string
	err     error
}

func (f *fakeProfiles) grant(userID uuid.UUID, courseID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.courses[userID] = append(f.courses[userID], courseID)
}

func (f *fakeProfiles) LoadSnapshot(_ context.Context, userID uuid.UUID) (entitlements.ProfileSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return entitlements.ProfileSnapshot{}, f.err
	}
	return entitlements.SnapshotOf(userID.String(), f.courses[userID]...), nil
}

var _ identity.Loader = (*fakeProfiles)(nil)

type server struct {
	t        *testing.T
	router   *gin.Engine
	host     *Host
	sched    *acctest.Scheduler
	profiles *fakeProfiles
	signer   *jwtkit.HMACSigner
}

func newServer(t *testing.T, limiter RateLimiter) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kv := memorystore.NewKV(0)
	t.Cleanup(func() { _ = kv.Close() })

	s := &server{
		t:        t,
		sched:    acctest.NewScheduler(time.Now()),
		profiles: &fakeProfiles{courses: map[uuid.UUID][]string{}},
	}
	deps := HostDeps{Backend: kv, Profiles: s.profiles, Scheduler: s.sched}
	if limiter != nil {
		deps.Limiter = limiter
	}
	s.host = NewHost(nil, deps)
	t.Cleanup(func() { _ = s.host.Close(context.Background()) })

	signer, err := jwtkit.NewHMACSigner(testSecret)
	require.NoError(t, err)
	s.signer = signer
	s.router = gin.New()
	Register(s.router, s.host, jwtkit.NewHMACVerifier(testSecret), nil)
	return s
}

func (s *server) token(userID uuid.UUID) string {
	tok, err := s.signer.Sign(context.Background(), jwtkit.Claims{
		RegisteredClaims: jwtkit.BaseRegisteredClaims(userID.String(), nil, time.Hour),
	})
	require.NoError(s.t, err)
	return tok
}

func (s *server) do(method, path string, userID uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+s.token(userID))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) progress(userID uuid.UUID, courseID string) Progress {
	w := s.do(http.MethodGet, "/courses/"+courseID+"/progress", userID)
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var p Progress
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t, nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/courses/c/progress", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/courses/c/progress", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", errorCode(t, w))

	tok, err := s.signer.Sign(context.Background(), jwtkit.Claims{
		RegisteredClaims: jwtkit.BaseRegisteredClaims("not-a-uuid", nil, time.Hour),
	})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/courses/c/progress", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentReturnUntilProfileRefreshGrants(t *testing.T) {
	s := newServer(t, nil)
	user := uuid.New()

	w := s.do(http.MethodPost, "/courses/go-101/view?lang=es", user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/courses/go-101/payment-return", user)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var p Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "scheduled", p.State)
	require.NotNil(t, p.Intent)
	assert.True(t, p.Intent.IsChecking)
	require.NotNil(t, p.Notification)
	assert.Equal(t, lang.Message("es", lang.KeyChecking), p.Notification.Message)

	s.sched.Advance(time.Second)
	p = s.progress(user, "go-101")
	assert.Equal(t, "idle", p.State)
	require.NotNil(t, p.Intent)
	assert.Equal(t, 1, p.Intent.Attempts)
	assert.Equal(t, 0.125, p.Notification.Progress)

	s.profiles.grant(user, "go-101")
	w = s.do(http.MethodPost, "/profile/refresh", user)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"courses":["go-101"]`)

	p = s.progress(user, "go-101")
	assert.Equal(t, "confirmed", p.State)
	assert.True(t, p.Purchased)
	assert.Nil(t, p.Intent)
	assert.Nil(t, p.Notification)
	assert.Equal(t, 0, s.sched.Pending())
}

func TestMountLifecycleErrors(t *testing.T) {
	s := newServer(t, nil)
	user := uuid.New()

	w := s.do(http.MethodPost, "/courses/c/payment-return", user)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_mounted", errorCode(t, w))

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)
	w = s.do(http.MethodPost, "/courses/c/view", user)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_mounted", errorCode(t, w))

	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/courses/c/view", user).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/courses/c/view", user).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/courses/c/notification", user).Code)
}

func TestUnmountKeepsIntentForRemount(t *testing.T) {
	s := newServer(t, nil)
	user := uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", user).Code)
	s.sched.Advance(time.Second)
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/courses/c/view", user).Code)

	p := s.progress(user, "c")
	assert.False(t, p.Mounted)
	assert.Nil(t, p.Notification)
	require.NotNil(t, p.Intent)
	assert.Equal(t, 1, p.Intent.Attempts)
	assert.Equal(t, 0, s.sched.Pending())

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)
	p = s.progress(user, "c")
	assert.Equal(t, "scheduled", p.State)
	require.NotNil(t, p.Notification)
	assert.Equal(t, 0.125, p.Notification.Progress)
}

func TestViewersAreIsolated(t *testing.T) {
	s := newServer(t, nil)
	alice, bob := uuid.New(), uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", alice).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", bob).Code)
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", alice).Code)
	s.sched.Advance(time.Second)

	pb := s.progress(bob, "c")
	assert.Equal(t, "idle", pb.State)
	assert.Nil(t, pb.Intent)
	assert.Nil(t, pb.Notification)
	pa := s.progress(alice, "c")
	require.NotNil(t, pa.Intent)
	assert.Equal(t, 1, pa.Intent.Attempts)
}

func TestSweepReachesViewersWithoutSession(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", alice).Code)
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", alice).Code)

	// Left behind by an earlier process; bob never comes back.
	orphan := intents.New(intents.Namespaced(s.host.deps.Backend, bob.String()))
	require.NoError(t, orphan.Save(ctx, entitlements.NewIntent("c", 8, time.Now().Add(-48*time.Hour))))

	assert.Len(t, s.host.Stores(ctx), 2)
	sweeper, err := core.NewSweeper(s.host.Stores, &core.SweeperConfig{MaxAge: 24 * time.Hour}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.False(t, orphan.IsActive(ctx, "c"))
	require.NotNil(t, s.progress(alice, "c").Intent)
}

func TestSignalsAreRateLimited(t *testing.T) {
	limiter := memorylimiter.New(map[string]memorylimiter.Limit{
		RLPaymentReturn: {Limit: 1, Window: time.Minute},
	})
	s := newServer(t, limiter)
	user := uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)

	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", user).Code)
	w := s.do(http.MethodPost, "/courses/c/payment-return", user)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorCode(t, w))
}

type brokenLimiter struct{}

func (brokenLimiter) AllowNamed(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestLimiterErrorsFailOpen(t *testing.T) {
	s := newServer(t, brokenLimiter{})
	user := uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)
	assert.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", user).Code)
}

func TestProfileRefreshFailure(t *testing.T) {
	s := newServer(t, nil)
	s.profiles.err = errors.New("db unavailable")
	w := s.do(http.MethodPost, "/profile/refresh", uuid.New())
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "profile_refresh_failed", errorCode(t, w))
}

func TestDismissTerminalNotification(t *testing.T) {
	s := newServer(t, nil)
	user := uuid.New()
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/courses/c/view", user).Code)
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/courses/c/payment-return", user).Code)
	s.sched.Advance(2 * time.Minute)

	p := s.progress(user, "c")
	assert.Equal(t, "exhausted", p.State)
	require.NotNil(t, p.Notification)
	assert.True(t, p.Notification.Terminal)

	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/courses/c/notification", user).Code)
	assert.Nil(t, s.progress(user, "c").Notification)
}

func TestClosedHostRejectsMounts(t *testing.T) {
	s := newServer(t, nil)
	require.NoError(t, s.host.Close(context.Background()))
	w := s.do(http.MethodPost, "/courses/c/view", uuid.New())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
