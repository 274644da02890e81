package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/logging"
	"storefront/models"
	"storefront/storage"
	"storefront/store"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(sessions *store.SessionStore, secret string) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(sessions, secret, logging.Discard()))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": c.GetString(CtxToken), "user": c.GetString(CtxUserID)})
	})
	r.GET("/private", RequireAuth(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func signed(t *testing.T, id, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": id}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	sessions := store.NewSessionStore(storage.NewMemoryStorage(), logging.Discard())
	r := newEngine(sessions, "k")

	tok := signed(t, "u7", "k")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"`+tok+`","user":"u7"}`, w.Body.String())
}

func TestAuthenticate_FallsBackToSession(t *testing.T) {
	sessions := store.NewSessionStore(storage.NewMemoryStorage(), logging.Discard())
	sessions.Login(context.Background(), "opaque-token", models.User{ID: "u1"})
	r := newEngine(sessions, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.JSONEq(t, `{"token":"opaque-token","user":"u1"}`, w.Body.String())
}

func TestAuthenticate_BadSignatureIsAnonymous(t *testing.T) {
	sessions := store.NewSessionStore(storage.NewMemoryStorage(), logging.Discard())
	r := newEngine(sessions, "k")

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "u7", "wrong"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_NoToken(t *testing.T) {
	sessions := store.NewSessionStore(storage.NewMemoryStorage(), logging.Discard())
	r := newEngine(sessions, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
