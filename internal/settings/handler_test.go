package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *Settings) error {
	return m.Called(ctx, s).Error(0)
}

func TestGetSettings(t *testing.T) {
	repo := new(MockRepository)
	h := NewHandler(NewService(repo))

	repo.On("Get", mock.Anything).Return(&Settings{
		GeminiAPIKey:     "key-123",
		FormulaEnabled:   true,
		LockTTLMinutes:   5,
		DefaultBatchSize: 100,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec := httptest.NewRecorder()

	h.GetSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data Settings `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "key-123", resp.Data.GeminiAPIKey)
	assert.Equal(t, 100, resp.Data.DefaultBatchSize)
}

func TestGetSettings_RepoError(t *testing.T) {
	repo := new(MockRepository)
	h := NewHandler(NewService(repo))

	repo.On("Get", mock.Anything).Return(nil, errors.New("db down"))

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec := httptest.NewRecorder()

	h.GetSettings(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUpdateSettings(t *testing.T) {
	repo := new(MockRepository)
	h := NewHandler(NewService(repo))

	repo.On("Update", mock.Anything, mock.MatchedBy(func(s *Settings) bool {
		return s.LockTTLMinutes == 10 && !s.FormulaEnabled
	})).Return(nil)

	body := `{"gemini_api_key":"new-key","formula_enabled":false,"lock_ttl_minutes":10,"default_batch_size":50}`
	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

func TestUpdateSettings_RejectsNegatives(t *testing.T) {
	repo := new(MockRepository)
	h := NewHandler(NewService(repo))

	body := `{"lock_ttl_minutes":-1}`
	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUpdateSettings_BadJSON(t *testing.T) {
	repo := new(MockRepository)
	h := NewHandler(NewService(repo))

	req := httptest.NewRequest(http.MethodPut, "/settings", bytes.NewBufferString("{bad"))
	rec := httptest.NewRecorder()

	h.UpdateSettings(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
