package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/federation"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type requestResponse struct {
	Success bool                     `json:"success"`
	Request *models.MigrationRequest `json:"request"`
}

type listResponse struct {
	Success  bool                       `json:"success"`
	Requests []*models.MigrationRequest `json:"requests"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=1024"`
}

type initiateRequest struct {
	UserName     string `json:"username" validate:"required,max=64"`
	TargetDomain string `json:"target_domain" validate:"required,hostname_port|hostname"`
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInvalidState), errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrChunkNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(r.Context(), "failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, code int, message string) {
	s.respondJSON(w, r, code, federation.Ack{Success: false, Error: message})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	s.respondError(w, r, code, err.Error())
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, r, http.StatusOK, federation.Ack{Success: true})
}

// Federation handlers.

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var ann models.Announcement
	if !s.decode(w, r, &ann) {
		return
	}
	ann.Token = strings.ToLower(ann.Token)

	req, err := s.coordinator.RegisterIncoming(r.Context(), ann)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, federation.AnnounceResponse{Success: true, ID: req.ID})
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var body federation.TokenRequest
	if !s.decode(w, r, &body) {
		return
	}

	m, err := s.chunks.Prepare(r.Context(), chi.URLParam(r, "username"), body.Token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, federation.PrepareResponse{Success: true, Manifest: m})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid chunk index")
		return
	}

	data, err := s.chunks.FetchChunk(r.Context(), chi.URLParam(r, "username"), r.URL.Query().Get("token"), index)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn(r.Context(), "chunk write failed", "index", index, "error", err)
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var body federation.TokenRequest
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.chunks.Cleanup(r.Context(), chi.URLParam(r, "username"), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, federation.Ack{Success: true})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body federation.CompleteRequest
	if !s.decode(w, r, &body) {
		return
	}

	err := s.coordinator.CompleteOutgoing(r.Context(), chi.URLParam(r, "username"), body.MigrationToken, body.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, federation.Ack{Success: true})
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	var body federation.FailedRequest
	if !s.decode(w, r, &body) {
		return
	}

	err := s.coordinator.FailOutgoing(r.Context(), chi.URLParam(r, "username"), body.MigrationToken, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, federation.Ack{Success: true})
}

// Management handlers.

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.RequestFilter{
		Status:    models.Status(q.Get("status")),
		Direction: models.Direction(q.Get("direction")),
	}

	list, err := s.coordinator.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []*models.MigrationRequest{}
	}
	s.respondJSON(w, r, http.StatusOK, listResponse{Success: true, Requests: list})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.coordinator.Get(r.Context(), chi.URLParam(r, "id"))
	s.respondRequest(w, r, req, err)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	req, err := s.coordinator.Accept(r.Context(), chi.URLParam(r, "id"), operatorFrom(r.Context()))
	s.respondRequest(w, r, req, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if r.ContentLength != 0 && !s.decode(w, r, &body) {
		return
	}
	req, err := s.coordinator.Reject(r.Context(), chi.URLParam(r, "id"), operatorFrom(r.Context()), body.Reason)
	s.respondRequest(w, r, req, err)
}

// handleTransfer runs the transfer synchronously. It is detached from the
// client connection so a dropped operator session does not abort it.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	req, err := s.coordinator.Transfer(ctx, chi.URLParam(r, "id"))
	s.respondRequest(w, r, req, err)
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var body initiateRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := s.coordinator.Initiate(r.Context(), body.UserName, body.TargetDomain)
	s.respondRequest(w, r, req, err)
}

func (s *Server) respondRequest(w http.ResponseWriter, r *http.Request, req *models.MigrationRequest, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, requestResponse{Success: true, Request: req})
}
