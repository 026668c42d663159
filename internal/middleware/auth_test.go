package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type stubValidator struct {
	userID uuid.UUID
	err    error
}

func (s stubValidator) ValidateToken(context.Context, string) (uuid.UUID, error) {
	return s.userID, s.err
}

func TestUserAuth(t *testing.T) {
	user := uuid.New()
	var seen uuid.UUID
	handler := UserAuth(stubValidator{userID: user})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if seen != user {
		t.Errorf("user id in context: got %s, want %s", seen, user)
	}
}

func TestUserAuth_MissingHeader(t *testing.T) {
	called := false
	handler := UserAuth(stubValidator{userID: uuid.New()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler must not run without auth")
	}
}

func TestUserAuth_InvalidToken(t *testing.T) {
	handler := UserAuth(stubValidator{err: errors.New("expired")})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with a bad token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestUserIDFromCtx_Absent(t *testing.T) {
	if got := UserIDFromCtx(context.Background()); got != uuid.Nil {
		t.Errorf("expected uuid.Nil, got %s", got)
	}
}
