// Package api is the HTTP transport for campaign management and turn
// submission. Handlers decode JSON, call [turn.Service] and encode the result;
// they hold no state of their own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/MrWong99/arbiter/internal/campaign"
	"github.com/MrWong99/arbiter/internal/executor"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/store"
	"github.com/MrWong99/arbiter/internal/turn"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Defaults applied to campaign creation requests that leave fields empty.
const (
	DefaultWorldID = "world_001"
	DefaultMapID   = "map_001"
	DefaultActorID = "pc_001"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("api: bad request")

// Handler serves the campaign API.
type Handler struct {
	svc *turn.Service
}

// New returns a Handler backed by svc.
func New(svc *turn.Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/campaigns", h.createCampaign)
	mux.HandleFunc("GET /api/campaigns", h.listCampaigns)
	mux.HandleFunc("GET /api/campaigns/{id}", h.getCampaign)
	mux.HandleFunc("PUT /api/campaigns/{id}/actor", h.selectActor)
	mux.HandleFunc("GET /api/campaigns/{id}/map", h.mapView)
	mux.HandleFunc("POST /api/campaigns/{id}/turns", h.submitTurn)
	mux.HandleFunc("GET /api/campaigns/{id}/turns", h.turnLog)
}

// ── campaigns ────────────────────────────────────────────────────────────────

type createCampaignResponse struct {
	CampaignID string `json:"campaign_id"`
}

type listCampaignsResponse struct {
	Campaigns []campaign.Summary `json:"campaigns"`
}

// withCreateDefaults fills empty fields of req. An active actor outside the
// given party joins it at the front.
func withCreateDefaults(req turn.CreateRequest) turn.CreateRequest {
	if req.WorldID == "" {
		req.WorldID = DefaultWorldID
	}
	if req.MapID == "" {
		req.MapID = DefaultMapID
	}
	if len(req.PartyCharacterIDs) == 0 {
		req.PartyCharacterIDs = []string{DefaultActorID}
	}
	if req.ActiveActorID == "" {
		req.ActiveActorID = req.PartyCharacterIDs[0]
	}
	if !slices.Contains(req.PartyCharacterIDs, req.ActiveActorID) {
		req.PartyCharacterIDs = append([]string{req.ActiveActorID}, req.PartyCharacterIDs...)
	}
	return req
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req turn.CreateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	id, err := h.svc.CreateCampaign(r.Context(), withCreateDefaults(req))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createCampaignResponse{CampaignID: id})
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListCampaigns(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []campaign.Summary{}
	}
	writeJSON(w, http.StatusOK, listCampaignsResponse{Campaigns: list})
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type selectActorRequest struct {
	ActiveActorID string `json:"active_actor_id"`
}

type selectActorResponse struct {
	CampaignID    string `json:"campaign_id"`
	ActiveActorID string `json:"active_actor_id"`
}

func (h *Handler) selectActor(w http.ResponseWriter, r *http.Request) {
	var req selectActorRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.ActiveActorID == "" {
		writeError(r.Context(), w, fmt.Errorf("%w: active_actor_id is required", errBadRequest))
		return
	}
	c, err := h.svc.SelectActor(r.Context(), r.PathValue("id"), req.ActiveActorID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectActorResponse{
		CampaignID:    c.ID,
		ActiveActorID: c.Selected.ActiveActorID,
	})
}

func (h *Handler) mapView(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		actorID = c.Selected.ActiveActorID
	}
	if !c.InParty(actorID) {
		writeError(r.Context(), w, fmt.Errorf("api: actor %q: %w", actorID, turn.ErrActorNotInParty))
		return
	}
	view, err := executor.View(c, actorID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ── turns ────────────────────────────────────────────────────────────────────

type submitTurnRequest struct {
	UserInput string `json:"user_input"`
	ActorID   string `json:"actor_id,omitempty"`
}

type turnLogResponse struct {
	Turns []campaign.TurnLogEntry `json:"turns"`
}

func (h *Handler) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req submitTurnRequest
	if err := decode(w, r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	resp, err := h.svc.SubmitTurn(r.Context(), turn.Request{
		CampaignID: r.PathValue("id"),
		UserInput:  req.UserInput,
		ActorID:    req.ActorID,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) turnLog(w http.ResponseWriter, r *http.Request) {
	turns, err := h.svc.TurnLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if turns == nil {
		turns = []campaign.TurnLogEntry{}
	}
	writeJSON(w, http.StatusOK, turnLogResponse{Turns: turns})
}

// ── encoding ─────────────────────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// statusOf maps service errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, turn.ErrActorNotInParty),
		errors.Is(err, turn.ErrInvalidRequest),
		errors.Is(err, executor.ErrInvalidArgs):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(ctx).Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observe.Logger(context.Background()).Warn("encode response", "err", err)
	}
}
