package httpinterface

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neuraiproject/wcbridge/internal/core/application"
	"github.com/neuraiproject/wcbridge/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

const maxBodySize = 1 << 16

type pairRequest struct {
	URI string `json:"uri"`
}

type addAccountRequest struct {
	Path string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type operatorHandler struct {
	operatorSvc application.OperatorService
}

func newOperatorHandler(operatorSvc application.OperatorService) *operatorHandler {
	return &operatorHandler{operatorSvc}
}

func (h *operatorHandler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", h.getStatus)
	mux.HandleFunc("GET /v1/sessions", h.listSessions)
	mux.HandleFunc("DELETE /v1/sessions/{topic}", h.disconnect)
	mux.HandleFunc("POST /v1/pair", h.pair)
	mux.HandleFunc("GET /v1/accounts", h.listAccounts)
	mux.HandleFunc("POST /v1/accounts", h.addAccount)
	mux.HandleFunc("DELETE /v1/accounts/{address}", h.removeAccount)
}

func (h *operatorHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.operatorSvc.GetStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *operatorHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.operatorSvc.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *operatorHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.operatorSvc.Disconnect(r.Context(), r.PathValue("topic")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *operatorHandler) pair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.operatorSvc.Pair(r.Context(), req.URI); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *operatorHandler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.operatorSvc.ListAccounts(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (h *operatorHandler) addAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := h.operatorSvc.AddAccount(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *operatorHandler) removeAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.operatorSvc.RemoveAccount(
		r.Context(), r.PathValue("address"),
	); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.WrapError(domain.ErrInvalidParams, err, "invalid body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Warn("operator request failed")
	}
	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Code:  application.ErrorCode(err),
	})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParams),
		errors.Is(err, domain.ErrInvalidAccountId),
		errors.Is(err, domain.ErrInvalidChainId):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrSupervisorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTransportTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
