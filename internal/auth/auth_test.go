package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager("test-secret", ttl, zap.NewNop())
}

func TestIssueAndVerifyToken(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.IssueToken(7, "AUTHOR")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	identity, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if identity.UserID != 7 {
		t.Fatalf("expected user id 7, got %d", identity.UserID)
	}
	if identity.Role != "AUTHOR" {
		t.Fatalf("expected role AUTHOR, got %s", identity.Role)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := newTestManager(time.Hour).IssueToken(1, "AUTHOR")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	other := NewManager("different-secret", time.Hour, zap.NewNop())
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatal("expected verification to fail with wrong secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(-time.Minute)

	token, err := m.IssueToken(1, "AUTHOR")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := m.VerifyToken(token); err == nil {
		t.Fatal("expected verification to fail for expired token")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(time.Hour)

	router := gin.New()
	router.GET("/protected", m.Middleware(), func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": identity.UserID})
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-token", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}

	t.Run("valid token", func(t *testing.T) {
		token, err := m.IssueToken(3, "AUTHOR")
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})
}
