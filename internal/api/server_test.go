package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenfs/warden/internal/ratelimiter"
	"github.com/wardenfs/warden/pkg/audit"
	auditmemory "github.com/wardenfs/warden/pkg/audit/memory"
	contentmemory "github.com/wardenfs/warden/pkg/content/memory"
	"github.com/wardenfs/warden/pkg/engine"
	"github.com/wardenfs/warden/pkg/storage/memory"
)

var testSecret = []byte("test-secret")

type testServer struct {
	server   *Server
	recorder *audit.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithQuotas(t, map[ratelimiter.Class]ratelimiter.Quota{
		ratelimiter.ClassStorageOps: {Limit: 1000, Window: time.Minute},
		ratelimiter.ClassDownload:   {Limit: 1000, Window: time.Minute},
	})
}

func newTestServerWithQuotas(t *testing.T, quotas map[ratelimiter.Class]ratelimiter.Quota) *testServer {
	t.Helper()

	tree := memory.NewMemoryTreeStore()
	recorder, err := audit.NewRecorder(audit.RecorderConfig{
		Sink:   auditmemory.NewMemorySink(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, recorder.Close(ctx))
	})

	eng, err := engine.NewEngine(engine.EngineDependencies{
		Tree:    tree,
		Content: contentmemory.NewMemoryBroker(),
		Limiter: ratelimiter.New(ratelimiter.LimiterConfig{
			Store:    ratelimiter.NewMemoryCounterStore(),
			Quotas:   quotas,
			FailOpen: true,
		}),
		Recorder: recorder,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	server, err := NewServer(ServerDependencies{
		Engine:     eng,
		Tree:       tree,
		AuthSecret: testSecret,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testServer{server: server, recorder: recorder}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func mintToken(t *testing.T, userID string, orgs []string) string {
	t.Helper()
	token, err := MintSessionToken(testSecret, userID, orgs, time.Hour)
	require.NoError(t, err)
	return token
}

func decodeItem(t *testing.T, w *httptest.ResponseRecorder) itemResponse {
	t.Helper()
	var item itemResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	return item
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGarbageTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWrongSecretIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	forged, err := MintSessionToken([]byte("other-secret"), "alice", []string{"org-1"}, time.Hour)
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndListRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/folders", token, gin.H{
		"name":       "docs",
		"visibility": "org",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	folder := decodeItem(t, w)
	assert.Equal(t, "docs", folder.Name)
	assert.Equal(t, "folder", folder.Type)
	assert.Equal(t, "alice", folder.OwnerID)

	w = ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/files", token, gin.H{
		"parentId":    folder.ID,
		"name":        "report.pdf",
		"mimeType":    "application/pdf",
		"size":        1024,
		"storagePath": "org-1/report.pdf",
		"visibility":  "org",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items?parentId="+folder.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Items []itemResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Items, 1)
	assert.Equal(t, "report.pdf", listResp.Items[0].Name)
}

func TestNonMemberGetsForbidden(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "carol", []string{"org-2"})

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnsafeNameIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/files", token, gin.H{
		"name":        "../../etc/passwd",
		"storagePath": "org-1/x",
		"visibility":  "org",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Code)
	assert.NotEmpty(t, resp.Fields)
}

func TestCreateFileMissingFieldsReportsAll(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/files", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Code)

	// Every missing field is reported in one response.
	joined := strings.Join(resp.Fields, "\n")
	assert.Contains(t, joined, "Name")
	assert.Contains(t, joined, "StoragePath")
	assert.Contains(t, joined, "Visibility")
}

func TestRenameEmptyNameIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/folders", token, gin.H{
		"name":       "docs",
		"visibility": "org",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	folder := decodeItem(t, w)

	w = ts.do(t, http.MethodPatch, "/api/v1/orgs/org-1/items/"+folder.ID+"/name", token, gin.H{
		"name": "",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp.Code)
}

func TestUnknownVisibilityIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/folders", token, gin.H{
		"name":       "docs",
		"visibility": "everyone",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRenameAndDelete(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/folders", token, gin.H{
		"name":       "old",
		"visibility": "org",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	folder := decodeItem(t, w)

	w = ts.do(t, http.MethodPatch, "/api/v1/orgs/org-1/items/"+folder.ID+"/name", token, gin.H{
		"name": "new",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "new", decodeItem(t, w).Name)

	w = ts.do(t, http.MethodDelete, "/api/v1/orgs/org-1/items/"+folder.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ItemsRemoved int `json:"itemsRemoved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ItemsRemoved)

	w = ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items?parentId="+folder.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateVisibility(t *testing.T) {
	ts := newTestServer(t)
	alice := mintToken(t, "alice", []string{"org-1"})
	bob := mintToken(t, "bob", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/folders", alice, gin.H{
		"name":       "shared",
		"visibility": "org",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	folder := decodeItem(t, w)

	// Non-owner gets 403: the item is visible to bob, so existence is
	// disclosed.
	w = ts.do(t, http.MethodPatch, "/api/v1/orgs/org-1/items/"+folder.ID+"/visibility", bob, gin.H{
		"visibility": "private",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/orgs/org-1/items/"+folder.ID+"/visibility", alice, gin.H{
		"visibility": "custom",
		"userIds":    []string{"bob"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeItem(t, w)
	assert.Equal(t, "custom", updated.Visibility)
	assert.Equal(t, []string{"bob"}, updated.UserIDs)
}

func TestDownloadRedirects(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodPost, "/api/v1/orgs/org-1/files", token, gin.H{
		"name":        "report.pdf",
		"storagePath": "org-1/report.pdf",
		"visibility":  "org",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	file := decodeItem(t, w)

	w = ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items/"+file.ID+"/download", token, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "report.pdf")
}

func TestDownloadMissingItemIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items/no-such-item/download", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitedIsTooManyRequests(t *testing.T) {
	ts := newTestServerWithQuotas(t, map[ratelimiter.Class]ratelimiter.Quota{
		ratelimiter.ClassStorageOps: {Limit: 1, Window: time.Minute},
	})
	token := mintToken(t, "alice", []string{"org-1"})

	w := ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/orgs/org-1/items", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}
