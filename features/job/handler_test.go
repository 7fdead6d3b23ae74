package job

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *MockRepository, *MockPublisher) {
	t.Helper()
	repo := new(MockRepository)
	pub := new(MockPublisher)
	locks := new(MockLockStore)
	cfg := new(MockSettingsService)
	svc := NewService(repo, pub, locks, cfg)
	return NewHandler(svc, t.TempDir(), 50), repo, pub
}

func TestHandler_Create(t *testing.T) {
	h, repo, _ := newTestHandler(t)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	body := `{"name":"spring catalog","source_path":"/feeds/spring.csv","format":"delimited"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	repo.AssertExpectations(t)
}

func TestHandler_Create_ValidationError(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"name":""}`))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "error")
	assert.Contains(t, resp, "correlationId")
}

func TestHandler_List_EmptyReturnsArray(t *testing.T) {
	h, repo, _ := newTestHandler(t)
	repo.On("List", mock.Anything).Return([]Job(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandler_Action_Unknown(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/explode", nil)
	req.SetPathValue("id", "job-1")
	req.SetPathValue("action", "explode")
	rec := httptest.NewRecorder()

	h.Action(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Action_InvalidTransitionIsConflict(t *testing.T) {
	h, repo, _ := newTestHandler(t)
	repo.On("Get", mock.Anything, "job-1").Return(&Job{ID: "job-1", Status: StatusPending}, nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/pause", nil)
	req.SetPathValue("id", "job-1")
	req.SetPathValue("action", "pause")
	rec := httptest.NewRecorder()

	h.Action(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_Upload_RejectsUnsupportedExtension(t *testing.T) {
	h, _, _ := newTestHandler(t)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "file", "feed.exe", []byte("MZ"))

	req := httptest.NewRequest(http.MethodPost, "/jobs/upload", &buf)
	req.Header.Set("Content-Type", mw)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Upload_SavesFile(t *testing.T) {
	h, _, _ := newTestHandler(t)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "file", "feed.csv", []byte("sku,name\nA-1,Widget\n"))

	req := httptest.NewRequest(http.MethodPost, "/jobs/upload", &buf)
	req.Header.Set("Content-Type", mw)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data struct {
			Path     string `json:"path"`
			Filename string `json:"filename"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "feed.csv", resp.Data.Filename)

	saved, err := os.ReadFile(filepath.Clean(resp.Data.Path))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "Widget")
}

func TestHandler_Preview_NotFound(t *testing.T) {
	h, repo, _ := newTestHandler(t)
	repo.On("Get", mock.Anything, "missing").Return(nil, sqlErrNoRows())

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing/preview", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Preview(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Preview_ParsesFeed(t *testing.T) {
	h, repo, _ := newTestHandler(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte("sku;name;price\nA-1;Widget;9.99\nA-2;Gadget;19.99\n"), 0o600))

	repo.On("Get", mock.Anything, "job-1").Return(&Job{
		ID: "job-1", Name: "a", SourcePath: path, Format: FormatDelimited,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1/preview?page=1&page_size=10", nil)
	req.SetPathValue("id", "job-1")
	rec := httptest.NewRecorder()

	h.Preview(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Widget")
	assert.Contains(t, rec.Body.String(), "total_records")
}
