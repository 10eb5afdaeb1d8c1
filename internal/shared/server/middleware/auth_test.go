package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/shared/auth"
)

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(nil))
	router.OPTIONS("/api/anamnesis", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/anamnesis", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAuthBearerAndGuestIdentities(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer, err := auth.NewSigner("secret", false)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := signer.Sign(auth.Claims{Sub: "google:42"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	router := gin.New()
	router.Use(Auth(signer))
	router.GET("/api/anamnesis", func(c *gin.Context) {
		c.String(http.StatusOK, UserIDFromContext(c))
	})

	cases := []struct {
		name   string
		header map[string]string
		code   int
		body   string
	}{
		{name: "bearer", header: map[string]string{"Authorization": "Bearer " + token}, code: http.StatusOK, body: "google:42"},
		{name: "guest", header: map[string]string{"X-Guest-Id": "g-1"}, code: http.StatusOK, body: "guest:g-1"},
		{name: "bad token", header: map[string]string{"Authorization": "Bearer nope"}, code: http.StatusUnauthorized},
		{name: "no identity", header: nil, code: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/anamnesis", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.Code)
			}
			if tc.body != "" && resp.Body.String() != tc.body {
				t.Fatalf("expected body %q, got %q", tc.body, resp.Body.String())
			}
		})
	}
}

func TestAuthRejectedTokenIsNotDowngradedToGuest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(nil))
	router.GET("/api/anamnesis", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"Basic abc", "Bearer ", "Bearer token-without-verifier"} {
		req := httptest.NewRequest(http.MethodGet, "/api/anamnesis", nil)
		req.Header.Set("Authorization", header)
		req.Header.Set("X-Guest-Id", "g-1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.Code)
		}
		var body struct {
			Error struct {
				Code     string `json:"code"`
				Category string `json:"category"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != "UNAUTHORIZED" || body.Error.Category != "authentication" {
			t.Fatalf("header %q: unexpected error body %+v", header, body.Error)
		}
	}
}

func TestAuthSkipsPublicPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(nil))
	for _, path := range []string{"/api/health", "/metrics", "/api/auth/google/start"} {
		router.GET(path, func(c *gin.Context) { c.Status(http.StatusOK) })
	}
	router.GET("/api/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/health", "/metrics", "/api/auth/google/start"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected exact match for /api/health, got %d", resp.Code)
	}
}

func TestIdentityFromContextCarriesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer, err := auth.NewSigner("secret", false)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := signer.Sign(auth.Claims{Sub: "google:7", Email: "dr@clinic.com", Name: "Dr. Lee"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	var got Identity
	router := gin.New()
	router.Use(Auth(signer))
	router.GET("/api/me", func(c *gin.Context) {
		got, _ = IdentityFromContext(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got.UserID != "google:7" || got.Email != "dr@clinic.com" || got.Name != "Dr. Lee" || got.Guest {
		t.Fatalf("unexpected identity: %+v", got)
	}
}
