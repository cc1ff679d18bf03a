package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/mapper"
	"github.com/openarquivo/fichas-api/internal/services"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/gorilla/mux"
)

type TemplateHandler struct {
	service     services.TemplateService
	maxFileSize int64
	logger      *utils.Logger
}

func NewTemplateHandler(service services.TemplateService, maxFileSize int64, logger *utils.Logger) *TemplateHandler {
	return &TemplateHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// ExtractDraft accepts a blank form PDF and returns the heuristic draft
// schema for review. Nothing is persisted until the draft is published.
func (h *TemplateHandler) ExtractDraft(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	data, err := h.readUpload(w, r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if name == "" {
		respondError(w, h.logger, utils.NewBadRequestError("Template name is required"))
		return
	}

	draft, err := h.service.ExtractDraft(r.Context(), name, data)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, draft)
}

type publishRequest struct {
	Draft     *extractor.DraftSchema `json:"draft"`
	Overrides mapper.Overrides       `json:"overrides"`
}

// Publish turns a reviewed draft into the next immutable version of the
// template. Re-publishing an identical field set returns the current version.
func (h *TemplateHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Draft == nil {
		respondError(w, h.logger, utils.NewBadRequestError("Draft schema is required"))
		return
	}

	tmpl, err := h.service.Publish(r.Context(), req.Draft, req.Overrides)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	tmpl, err := h.service.GetLatest(r.Context(), name)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, tmpl)
}

func (h *TemplateHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	version, err := strconv.Atoi(vars["version"])
	if err != nil || version < 1 {
		respondError(w, h.logger, utils.NewBadRequestError("Version must be a positive integer"))
		return
	}

	tmpl, err := h.service.Get(r.Context(), name, version)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, tmpl)
}

// readUpload reads the "file" part of a multipart upload under the size cap.
func (h *TemplateHandler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > h.maxFileSize {
		return nil, utils.NewBadRequestError("File exceeds size limit")
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return nil, utils.NewBadRequestError("File exceeds size limit")
		}
		return nil, utils.NewBadRequestError("Invalid form data")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, utils.NewBadRequestError("No file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return nil, utils.NewInternalError("Failed to read file")
	}
	if int64(len(data)) > h.maxFileSize {
		return nil, utils.NewBadRequestError("File exceeds size limit")
	}
	if len(data) == 0 {
		return nil, utils.NewBadRequestError("Uploaded file is empty")
	}
	return data, nil
}
