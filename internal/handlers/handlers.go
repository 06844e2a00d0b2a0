package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/classify-api/internal/classifier"
	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/repository"
)

// NoImageMessage is returned when /predict has no image field.
const NoImageMessage = "No image uploaded"

type Handler struct {
	classifier     *classifier.Classifier
	records        repository.PredictionRepository
	maxUploadBytes int64
}

func NewHandler(c *classifier.Classifier, records repository.PredictionRepository, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		classifier:     c,
		records:        records,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Hi(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("hi"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": h.classifier.Manager().Loaded(),
	})
}

// Predict classifies the multipart field "image". A missing field is
// reported in the body with status 200, as existing clients expect.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusOK, NoImageMessage)
		return
	}
	defer file.Close()

	logger.Logger.Debug("received file", "filename", header.Filename, "size", header.Size)

	result, err := h.classifier.ClassifyReader(r.Context(), file, header.Filename)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PredictTensor classifies an already normalized [H, W, 3] float array.
func (h *Handler) PredictTensor(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	var req model.TensorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	result, err := h.classifier.ClassifyTensor(r.Context(), req.Image, "tensor")
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Signature(w http.ResponseWriter, r *http.Request) {
	sig, err := h.classifier.Manager().Ensure()
	if err != nil {
		h.fail(w, err)
		return
	}
	height, width, _ := sig.TargetSize()
	writeJSON(w, http.StatusOK, map[string]any{
		"filename":             sig.Filename,
		"export_model_version": sig.ExportModelVersion,
		"tags":                 sig.Tags,
		"inputs":               sig.Inputs,
		"outputs":              sig.Outputs,
		"classes":              sig.Classes.Label,
		"image_size":           []int{height, width},
	})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	sig, err := h.classifier.Manager().Reload()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"model":   sig.ModelPath,
		"classes": len(sig.Classes.Label),
	})
}

func (h *Handler) RecentPredictions(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusNotFound, "Prediction log is disabled")
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	records, err := h.records.Recent(limit)
	if err != nil {
		logger.Logger.Error("failed to read prediction log", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read prediction log")
		return
	}
	total, err := h.records.Count()
	if err != nil {
		logger.Logger.Error("failed to count prediction log", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read prediction log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       total,
		"predictions": records,
	})
}

// fail maps pipeline errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrModelNotFound), errors.Is(err, model.ErrModelLoad):
		logger.Logger.Error("model unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Logger.Error("prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, model.ErrorResponse{Error: message})
}
