package controller

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/musicsync/server/internal/service/room"
	"github.com/musicsync/server/pkg/rest"
)

func (c controller) getSyncPolicy(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": c.policy})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room-id")

	state, err := c.roomService.GetRoomState(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to get room state", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": state})
}

type registerTrackRequest struct {
	Ref  string `json:"ref" validate:"required,max=128"`
	URL  string `json:"url" validate:"required,http_url,max=2048"`
	Name string `json:"name" validate:"max=256"`
}

func (c controller) registerTrack(w http.ResponseWriter, r *http.Request) {
	var req registerTrackRequest

	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	track, err := c.roomService.RegisterTrack(r.Context(), &room.RegisterTrackParams{
		Ref:  req.Ref,
		URL:  req.URL,
		Name: req.Name,
	})
	if err != nil {
		if errors.Is(err, room.ErrTrackAlreadyExists) {
			rest.WriteJSON(w, http.StatusConflict, rest.Envelope{"error": "track already exists"})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to register track", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.Envelope{"data": track})
}

func (c controller) getTrack(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	track, err := c.roomService.GetTrack(r.Context(), ref)
	if err != nil {
		if errors.Is(err, room.ErrTrackNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "track not found"})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to get track", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": track})
}

func (c controller) removeTrack(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	if err := c.roomService.RemoveTrack(r.Context(), ref); err != nil {
		if errors.Is(err, room.ErrTrackNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "track not found"})
			return
		}
		c.logger.WarnContext(r.Context(), "failed to remove track", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal error"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
