package handlers_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nfnt/resize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/classify-api/internal/classifier"
	"github.com/Brownie44l1/classify-api/internal/handlers"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/model/modeltest"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/repository"
	"github.com/Brownie44l1/classify-api/internal/repository/sqlite"
	"github.com/Brownie44l1/classify-api/internal/routes"
)

type testServer struct {
	handler http.Handler
	runtime *modeltest.Runtime
	manager *model.Manager
}

func newTestServer(t *testing.T, records repository.PredictionRepository, scores ...float32) *testServer {
	t.Helper()

	rt := modeltest.NewRuntime(scores...)
	dir := modeltest.WriteModelDir(t, modeltest.DefaultSignature(8, "cat", "dog", "bird"))
	m := model.NewManager(model.ManagerConfig{Dir: dir}, rt)
	require.NoError(t, m.Load())
	t.Cleanup(m.Unload)

	c := classifier.New(m, preprocess.NewDecoder(nil), preprocess.NewNormalizer(resize.Bicubic),
		classifier.Options{Records: records})
	h := handlers.NewHandler(c, records, 1<<20)
	return &testServer{
		handler: routes.SetupRoutes(h, routes.Options{CORS: true}),
		runtime: rt,
		manager: m,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, "upload.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, w.WriteField("comment", "no file here"))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func whitePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHi(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/hi", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","model_loaded":true}`, rec.Body.String())
}

// A missing image is reported in the body while the status stays 200.
func TestPredict_MissingImage(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	for name, req := range map[string]*http.Request{
		"multipart without image": multipartRequest(t, "", nil),
		"wrong field name":        multipartRequest(t, "file", whitePNG(t, 4)),
		"not multipart":           httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("x")),
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"error":"No image uploaded"}`, rec.Body.String())
		})
	}
	assert.Equal(t, 0, s.runtime.Runs())
}

func TestPredict_Success(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	rec := s.do(multipartRequest(t, "image", whitePNG(t, 50)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"predictions":[
		{"label":"bird","confidence":0.8},
		{"label":"cat","confidence":0.1},
		{"label":"dog","confidence":0.1}
	]}`, rec.Body.String())
	assert.Equal(t, 1, s.runtime.Runs())
}

func TestPredict_LoadsAfterUnload(t *testing.T) {
	s := newTestServer(t, nil, 0.2, 0.7, 0.1)
	s.manager.Unload()

	rec := s.do(multipartRequest(t, "image", whitePNG(t, 10)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.manager.Loaded())
}

func TestPredict_UnparseableImage(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	rec := s.do(multipartRequest(t, "image", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, 0, s.runtime.Runs())
}

func TestPredict_ClassMismatchIsServerError(t *testing.T) {
	s := newTestServer(t, nil, 0.5, 0.5)

	rec := s.do(multipartRequest(t, "image", whitePNG(t, 8)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "configuration error")
}

func TestPredictTensor(t *testing.T) {
	s := newTestServer(t, nil, 0.2, 0.7, 0.1)

	payload, err := json.Marshal(model.TensorRequest{Image: make([]float32, 8*8*3)})
	require.NoError(t, err)
	rec := s.do(httptest.NewRequest(http.MethodPost, "/predict/tensor", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Predictions, 3)
	assert.Equal(t, "dog", result.Predictions[0].Label)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/predict/tensor", strings.NewReader(`{"image":[1,2]}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/predict/tensor", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignatureAndReload(t *testing.T) {
	s := newTestServer(t, nil, 0.2, 0.7, 0.1)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/signature", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sig map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sig))
	assert.Equal(t, "model.onnx", sig["filename"])
	assert.Equal(t, []any{"cat", "dog", "bird"}, sig["classes"])
	assert.Equal(t, []any{float64(8), float64(8)}, sig["image_size"])

	opens := s.runtime.Opens()
	rec = s.do(httptest.NewRequest(http.MethodPost, "/admin/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, opens+1, s.runtime.Opens())
}

func TestReloadWhileUnloading(t *testing.T) {
	s := newTestServer(t, nil, 0.2, 0.7, 0.1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s.manager.Unload()
		}
	}()

	for i := 0; i < 20; i++ {
		rec := s.do(httptest.NewRequest(http.MethodPost, "/admin/reload", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "reloaded", body["status"])
		assert.Equal(t, float64(3), body["classes"])
	}
	wg.Wait()
}

func TestRecentPredictions(t *testing.T) {
	s := newTestServer(t, nil, 0.2, 0.7, 0.1)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/predictions/recent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	db, err := sqlite.New(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	defer db.Close()
	s = newTestServer(t, sqlite.NewPredictionRepository(db), 0.2, 0.7, 0.1)

	require.Equal(t, http.StatusOK, s.do(multipartRequest(t, "image", whitePNG(t, 8))).Code)
	require.Equal(t, http.StatusOK, s.do(multipartRequest(t, "image", whitePNG(t, 8))).Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/predictions/recent?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total       int `json:"total"`
		Predictions []struct {
			Label string `json:"label"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Predictions, 1)
	assert.Equal(t, "dog", body.Predictions[0].Label)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, 0.1, 0.1, 0.8)

	rec := s.do(httptest.NewRequest(http.MethodOptions, "/predict", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
