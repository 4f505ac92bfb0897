package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/FrenchMajesty/tagger"
	"github.com/FrenchMajesty/tagger/pkg/imageio"
)

const serviceName = "Image Tag Service"

// Predictor runs one prediction request
type Predictor interface {
	Predict(ctx context.Context, req tagger.Request) tagger.Response
}

// StatusReporter reports which strategies can serve requests
type StatusReporter interface {
	Available() []tagger.StrategyID
	Unavailable() map[tagger.StrategyID]error
}

type Handler struct {
	predictor      Predictor
	status         StatusReporter
	maxUploadBytes int64
	maxPixels      int
	logger         logrus.FieldLogger
}

func NewHandler(predictor Predictor, status StatusReporter, maxUploadBytes int64, logger logrus.FieldLogger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		predictor:      predictor,
		status:         status,
		maxUploadBytes: maxUploadBytes,
		maxPixels:      imageio.DefaultMaxPixels,
		logger:         logger,
	}
}

type rootResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Available   []string          `json:"available"`
	Unavailable map[string]string `json:"unavailable,omitempty"`
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		JSONError(w, http.StatusNotFound, "Not found")
		return
	}
	JSONResponse(w, http.StatusOK, rootResponse{Message: serviceName + " is running!"})
}

// HandleHealth reports "healthy" when every strategy is loaded and
// "degraded" when some are disabled. Both are 200: the service still answers.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Service: serviceName,
	}
	for _, id := range h.status.Available() {
		resp.Available = append(resp.Available, id.String())
	}

	if unavailable := h.status.Unavailable(); len(unavailable) > 0 {
		resp.Status = "degraded"
		resp.Unavailable = make(map[string]string, len(unavailable))
		for id, err := range unavailable {
			resp.Unavailable[id.String()] = err.Error()
		}
	}
	JSONResponse(w, http.StatusOK, resp)
}

// HandlePredict accepts a multipart form with an "image" file and optional
// "k" and "model" fields. Engine failures are reported in the response body
// with status 200; only malformed uploads are rejected with 4xx.
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	reqID := RequestID(r.Context())
	log := h.logger.WithFields(logrus.Fields{
		"action":     "predict",
		"request_id": reqID,
	})

	req, err := h.parsePredictRequest(w, r)
	if err != nil {
		log.WithError(err).Info("rejected upload")
		HandleError(w, err)
		return
	}

	resp := h.predictor.Predict(r.Context(), *req)
	if resp.Error != "" {
		log.WithField("error", resp.Error).Warn("prediction returned an error")
	}
	JSONResponse(w, http.StatusOK, resp)
}

func (h *Handler) parsePredictRequest(w http.ResponseWriter, r *http.Request) (*tagger.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &HTTPError{Code: http.StatusRequestEntityTooLarge, Message: "Upload too large"}
		}
		return nil, badRequest("Expected a multipart form: " + err.Error())
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, badRequest("No file uploaded")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, badRequest("Could not read uploaded file")
	}

	img, err := imageio.DecodeLimit(data, h.maxPixels)
	if err != nil {
		return nil, badRequest("Invalid image: " + err.Error())
	}

	topK := 0
	if k := strings.TrimSpace(r.FormValue("k")); k != "" {
		topK, err = strconv.Atoi(k)
		if err != nil {
			return nil, badRequest("k must be an integer")
		}
	}

	return &tagger.Request{
		Image:    img,
		TopK:     topK,
		Strategy: r.FormValue("model"),
	}, nil
}
