package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/tsstatus/internal/core"
	"github.com/dkeye/tsstatus/internal/domain"
)

type staticStatus struct {
	report core.StatusReport
}

func (s staticStatus) Status() core.StatusReport { return s.report }

func init() {
	gin.SetMode(gin.TestMode)
}

func connectedStatus() staticStatus {
	n := 4
	return staticStatus{report: core.StatusReport{
		Connection: "connected",
		Display:    domain.DisplayRef{MessageID: 500, ChannelID: 600},
		LastCount:  &n,
	}}
}

func serve(r *gin.Engine, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sign(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestHealthz(t *testing.T) {
	r := SetupRouter(context.Background(), Config{Mode: "test"}, connectedStatus())
	if w := serve(r, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	down := SetupRouter(context.Background(), Config{Mode: "test"}, staticStatus{report: core.StatusReport{Connection: "reconnecting(5s)"}})
	w := serve(down, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestStatus_Open(t *testing.T) {
	r := SetupRouter(context.Background(), Config{Mode: "test"}, connectedStatus())
	w := serve(r, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Connection string `json:"connection"`
		LastCount  int    `json:"last_count"`
		Display    struct {
			MessageID string `json:"message_id"`
		} `json:"display"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if body.Connection != "connected" || body.LastCount != 4 || body.Display.MessageID != "500" {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestStatus_Auth(t *testing.T) {
	const secret = "s3cret"
	r := SetupRouter(context.Background(), Config{Mode: "test", JWTSecret: secret}, connectedStatus())
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := []struct {
		name   string
		bearer string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"wrong secret", sign(t, "other", jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}), http.StatusUnauthorized},
		{"no subject", sign(t, secret, jwt.RegisteredClaims{ExpiresAt: future}), http.StatusUnauthorized},
		{"expired", sign(t, secret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}), http.StatusUnauthorized},
		{"valid", sign(t, secret, jwt.RegisteredClaims{Subject: "ops", ExpiresAt: future}), http.StatusOK},
	}
	for _, tc := range cases {
		if w := serve(r, "/api/status", tc.bearer); w.Code != tc.want {
			t.Errorf("%s: status %d, want %d", tc.name, w.Code, tc.want)
		}
	}

	if w := serve(r, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", w.Code)
	}
}
