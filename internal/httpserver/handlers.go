package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"fax/internal/domain"
	"fax/internal/statusview"
)

type FaxService interface {
	CreateJob(ctx context.Context, req domain.CreateFaxJobRequest, clientIP string) (domain.CreateFaxJobResponse, error)
	GetStatus(ctx context.Context, jobID string) (statusview.View, error)
	Cancel(ctx context.Context, jobID string) (statusview.View, error)
}

type API struct {
	Svc               FaxService
	TrustForwardedFor bool
}

func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/v1/fax/jobs", a.handleCreateJob).Methods(http.MethodPost)
	mux.HandleFunc("/v1/fax/jobs/{id}", a.handleGetJob).Methods(http.MethodGet)
	mux.HandleFunc("/v1/fax/jobs/{id}/cancel", a.handleCancelJob).Methods(http.MethodPost)
}

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFaxJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrInvalidJSON})
		return
	}

	resp, err := a.Svc.CreateJob(r.Context(), req, ClientIP(r, a.TrustForwardedFor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrMissingID})
		return
	}
	view, err := a.Svc.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ErrMissingID})
		return
	}
	view, err := a.Svc.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
