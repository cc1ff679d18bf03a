package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openarquivo/fichas-api/internal/models"
	"github.com/openarquivo/fichas-api/internal/services"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/gorilla/mux"
)

type FichaHandler struct {
	service     services.FichaService
	maxFileSize int64
	logger      *utils.Logger
}

func NewFichaHandler(service services.FichaService, maxFileSize int64, logger *utils.Logger) *FichaHandler {
	return &FichaHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

type createFichaRequest struct {
	TemplateName    string         `json:"template_name"`
	TemplateVersion int            `json:"template_version"`
	Fields          map[string]any `json:"fields"`
}

func (h *FichaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFichaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.TemplateName == "" {
		respondError(w, h.logger, utils.NewBadRequestError("Template name is required"))
		return
	}

	ficha, err := h.service.Create(r.Context(), req.TemplateName, req.TemplateVersion, req.Fields)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, ficha)
}

// List returns a filtered page of fichas. Unknown filter values are rejected
// rather than silently matching nothing.
func (h *FichaHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.FichaFilter{TemplateName: q.Get("template_name")}
	if raw := q.Get("status"); raw != "" {
		status, ok := models.ParseFichaStatus(raw)
		if !ok {
			respondError(w, h.logger, utils.NewBadRequestError("Unknown status "+raw))
			return
		}
		filter.Status = status
	}
	var err error
	if filter.Page, err = queryInt(q.Get("page")); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid page"))
		return
	}
	if filter.PerPage, err = queryInt(q.Get("per_page")); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid per_page"))
		return
	}

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, page)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

func (h *FichaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ficha, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, ficha)
}

type updateFichaRequest struct {
	Revision int64          `json:"revision"`
	Fields   map[string]any `json:"fields"`
}

// Update patches ficha fields. The client echoes back the revision it read;
// a concurrent write in between surfaces as 409 and the client re-reads.
func (h *FichaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateFichaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Revision < 1 {
		respondError(w, h.logger, utils.NewBadRequestError("Revision is required"))
		return
	}
	if len(req.Fields) == 0 {
		respondError(w, h.logger, utils.NewBadRequestError("No field changes provided"))
		return
	}

	ficha, err := h.service.Update(r.Context(), id, req.Revision, req.Fields)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, ficha)
}

type transitionRequest struct {
	Revision int64  `json:"revision"`
	Status   string `json:"status"`
}

func (h *FichaHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("Invalid JSON body"))
		return
	}
	if req.Revision < 1 {
		respondError(w, h.logger, utils.NewBadRequestError("Revision is required"))
		return
	}
	status, ok := models.ParseFichaStatus(req.Status)
	if !ok {
		respondError(w, h.logger, utils.NewBadRequestError("Unknown status "+req.Status))
		return
	}

	ficha, err := h.service.Transition(r.Context(), id, req.Revision, status)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, ficha)
}

// Upload attaches a scanned document to a ficha and queues OCR for it.
func (h *FichaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if r.ContentLength > h.maxFileSize {
		respondError(w, h.logger, utils.NewBadRequestError("File exceeds size limit"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			respondError(w, h.logger, utils.NewBadRequestError("File exceeds size limit"))
			return
		}
		respondError(w, h.logger, utils.NewBadRequestError("Invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, h.logger, utils.NewBadRequestError("No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		respondError(w, h.logger, utils.NewInternalError("Failed to read file"))
		return
	}
	if len(data) == 0 {
		respondError(w, h.logger, utils.NewBadRequestError("Uploaded file is empty"))
		return
	}

	att, err := h.service.AddAttachment(r.Context(), id, header.Filename, data)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, att)
}

func (h *FichaHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	atts, err := h.service.ListAttachments(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if atts == nil {
		atts = []*models.Attachment{}
	}

	respondJSON(w, h.logger, http.StatusOK, atts)
}

func (h *FichaHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	entries, err := h.service.AuditTrail(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}

	respondJSON(w, h.logger, http.StatusOK, entries)
}
