package anamnesis

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"anamnesis-backend/internal/shared/server/middleware"
)

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func setupAnalysisRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := newTestEnv(t)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Auth(nil))
	NewHandler(env.svc).RegisterRoutes(router.Group("/api"))
	return router, env
}

func doRequest(router http.Handler, method, path, guest string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if guest != "" {
		req.Header.Set("X-Guest-Id", guest)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestCreateAnalysisEndpoint(t *testing.T) {
	router, env := setupAnalysisRouter(t)

	resp := doRequest(router, http.MethodPost, "/api/anamnesis", "g1", map[string]any{
		"primaryUrl": "https://clinic.com",
		"socialUrls": []string{"https://instagram.com/clinic"},
	})

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			ID      string   `json:"id"`
			Status  string   `json:"status"`
			Sources []Source `json:"sources"`
		} `json:"data"`
		Deduplication struct {
			IsDuplicate bool `json:"isDuplicate"`
		} `json:"deduplication"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Data.ID == "" || body.Data.Status != "queued" || len(body.Data.Sources) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Deduplication.IsDuplicate {
		t.Fatalf("expected a fresh analysis")
	}
	if len(env.dispatcher.dispatched) != 1 {
		t.Fatalf("expected a dispatch")
	}

	again := doRequest(router, http.MethodPost, "/api/anamnesis", "g1", map[string]any{"primaryUrl": "clinic.com"})
	if again.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", again.Code)
	}
}

func TestCreateAnalysisEndpointValidation(t *testing.T) {
	router, _ := setupAnalysisRouter(t)

	resp := doRequest(router, http.MethodPost, "/api/anamnesis", "g1", map[string]any{"primaryUrl": "ftp://clinic.com"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	body := decodeError(t, resp)
	if body.Success || body.Error.Code != "VALIDATION_ERROR" || body.Error.RequestID == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	malformed := httptest.NewRequest(http.MethodPost, "/api/anamnesis", bytes.NewBufferString("{"))
	malformed.Header.Set("X-Guest-Id", "g1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, malformed)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestGetAnalysisEndpointStatuses(t *testing.T) {
	router, env := setupAnalysisRouter(t)
	res := env.create(t, "guest:g1", "https://clinic.com")

	ok := doRequest(router, http.MethodGet, "/api/anamnesis/"+res.Analysis.ID, "g1", nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.Code)
	}

	foreign := doRequest(router, http.MethodGet, "/api/anamnesis/"+res.Analysis.ID, "g2", nil)
	if foreign.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign analysis, got %d", foreign.Code)
	}
	if body := decodeError(t, foreign); body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", body.Error.Code)
	}

	invalid := doRequest(router, http.MethodGet, "/api/anamnesis/not-a-uuid/status", "g1", nil)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", invalid.Code)
	}

	anonymous := doRequest(router, http.MethodGet, "/api/anamnesis/"+res.Analysis.ID, "", nil)
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", anonymous.Code)
	}
}

func TestListEndpointPagination(t *testing.T) {
	router, env := setupAnalysisRouter(t)
	env.create(t, "guest:g1", "https://a.com")
	env.create(t, "guest:g1", "https://b.com")

	resp := doRequest(router, http.MethodGet, "/api/anamnesis?page=1&limit=1", "g1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Data       []Analysis `json:"data"`
		Pagination struct {
			Total      int  `json:"total"`
			TotalPages int  `json:"totalPages"`
			HasNext    bool `json:"hasNext"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Pagination.Total != 2 || body.Pagination.TotalPages != 2 || !body.Pagination.HasNext {
		t.Fatalf("unexpected list body: %+v", body)
	}

	for _, q := range []string{"?page=abc", "?page=0", "?limit=0", "?limit=101", "?status=bogus"} {
		bad := doRequest(router, http.MethodGet, "/api/anamnesis"+q, "g1", nil)
		if bad.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", q, bad.Code)
		}
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	router, env := setupAnalysisRouter(t)
	res := env.create(t, "guest:g1", "https://clinic.com")
	path := "/api/anamnesis/" + res.Analysis.ID

	if resp := doRequest(router, http.MethodPost, path+"/retry", "g1", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 retrying a queued analysis, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodPost, path+"/cancel", "g1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodPost, path+"/cancel", "g1", nil); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodPost, path+"/retry", "g1", nil); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on retry, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodDelete, path, "g1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", resp.Code)
	}
	if resp := doRequest(router, http.MethodGet, path+"/status", "g1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected deleted analysis to stay readable, got %d", resp.Code)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	router, env := setupAnalysisRouter(t)
	env.create(t, "guest:g1", "https://clinic.com")
	doRequest(router, http.MethodGet, "/api/anamnesis/not-a-uuid", "g1", nil)

	dedupResp := doRequest(router, http.MethodGet, "/api/anamnesis/metrics/deduplication", "g1", nil)
	if dedupResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", dedupResp.Code)
	}
	var dedupBody struct {
		Data struct {
			Metrics struct {
				TotalChecks int `json:"totalChecks"`
			} `json:"metrics"`
		} `json:"data"`
	}
	if err := json.NewDecoder(dedupResp.Body).Decode(&dedupBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dedupBody.Data.Metrics.TotalChecks != 1 {
		t.Fatalf("expected 1 check, got %d", dedupBody.Data.Metrics.TotalChecks)
	}

	errResp := doRequest(router, http.MethodGet, "/api/anamnesis/metrics/errors", "g1", nil)
	var errBody struct {
		Data struct {
			ByCode map[string]int `json:"byCode"`
		} `json:"data"`
	}
	if err := json.NewDecoder(errResp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errBody.Data.ByCode["VALIDATION_ERROR"] != 1 {
		t.Fatalf("expected one validation error, got %v", errBody.Data.ByCode)
	}
}
