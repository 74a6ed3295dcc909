package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/printmeter/internal/config"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubService struct {
	submitReq  *domain.SubmitRequest
	submitResp domain.SubmitResponse
	submitErr  error

	statusResp domain.StatusResponse
	statusErr  error

	historyReq  *domain.HistoryRequest
	historyResp []domain.ImportBatch

	reverseResp domain.ReverseResponse
}

func (s *stubService) Submit(ctx context.Context, req domain.SubmitRequest) (domain.SubmitResponse, error) {
	s.submitReq = &req
	return s.submitResp, s.submitErr
}

func (s *stubService) Status(ctx context.Context, batchID snowflake.ID) (domain.StatusResponse, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) History(ctx context.Context, req domain.HistoryRequest) ([]domain.ImportBatch, error) {
	s.historyReq = &req
	return s.historyResp, nil
}

func (s *stubService) Reverse(ctx context.Context, batchID snowflake.ID) (domain.ReverseResponse, error) {
	return s.reverseResp, nil
}

func (s *stubService) Wait(batchID snowflake.ID) {}

func newTestServer(t *testing.T, svc domain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := NewEngine()
	NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{},
		Log:       zap.NewNop(),
		ImportSvc: svc,
	})
	return engine
}

func multipartCSV(t *testing.T, fields map[string]string, csv string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "usage.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestSubmitImportAccepted(t *testing.T) {
	svc := &stubService{
		submitResp: domain.SubmitResponse{BatchID: 12345, TotalRows: 2},
	}
	engine := newTestServer(t, svc)

	body, contentType := multipartCSV(t, map[string]string{"imported_at": "2024-12-01"},
		"Account ID;Print Total\nu-1;10\nu-2;20\n")

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp domain.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, snowflake.ID(12345), resp.BatchID)
	assert.Equal(t, 2, resp.TotalRows)

	require.NotNil(t, svc.submitReq)
	assert.Equal(t, "usage.csv", svc.submitReq.FileName)
	require.NotNil(t, svc.submitReq.ImportedAt)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), svc.submitReq.ImportedAt.UTC())
}

func TestSubmitImportMissingFile(t *testing.T) {
	engine := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitImportEmptyFile(t *testing.T) {
	svc := &stubService{submitErr: domain.ErrEmptyFile}
	engine := newTestServer(t, svc)

	body, contentType := multipartCSV(t, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportStatusNotFound(t *testing.T) {
	svc := &stubService{statusErr: domain.ErrBatchNotFound}
	engine := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/98765", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error.Type)
}

func TestImportStatusBadID(t *testing.T) {
	engine := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/not-a-number", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListImportsExtendsToEndOfDay(t *testing.T) {
	svc := &stubService{}
	engine := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/imports?from=2024-11-01&to=2024-11-30", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.historyReq)
	require.NotNil(t, svc.historyReq.From)
	require.NotNil(t, svc.historyReq.To)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), svc.historyReq.From.UTC())
	// The to bound covers the whole of Nov 30.
	assert.Equal(t, time.Date(2024, 11, 30, 23, 59, 59, 999999999, time.UTC), svc.historyReq.To.UTC())
}

func TestListImportsBadDate(t *testing.T) {
	engine := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/imports?from=yesterday", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReverseImport(t *testing.T) {
	svc := &stubService{reverseResp: domain.ReverseResponse{DeletedEventCount: 7}}
	engine := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/imports/12345/reverse", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp domain.ReverseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.DeletedEventCount)
}

func TestHealth(t *testing.T) {
	engine := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
