package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/ingest"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
	"github.com/keypad-relay/keypad-relay-server/internal/validation"
)

const maxEventBody = 64 << 10

// HandleCreateEvent returns the create handler for one event kind
func (s *RESTServer) HandleCreateEvent(kind protocol.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		row, err := s.deps.Ingest.Ingest(r.Context(), kind, body, ingest.SourceHTTP)
		if err != nil {
			var verr *validation.Error
			if errors.As(err, &verr) {
				s.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
					"error":   "validation failed",
					"details": verr.Details,
				})
				return
			}
			log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to ingest event")
			s.respondError(w, http.StatusInternalServerError, "failed to save event")
			return
		}

		if kind == protocol.TypeKeyEvent {
			s.respondJSON(w, http.StatusCreated, map[string]string{"message": "Key event saved"})
			return
		}
		s.respondJSON(w, http.StatusCreated, row)
	}
}

// HandleLatestKeyEvent returns the most recent key event
func (s *RESTServer) HandleLatestKeyEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Ingest.LatestKeyEvent(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondJSON(w, http.StatusNotFound, map[string]string{"message": "No key events yet."})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ev)
}

// HandleListKeyEvents lists ingested key events
func (s *RESTServer) HandleListKeyEvents(w http.ResponseWriter, r *http.Request) {
	baseID, err := optionalInt(r, "base_id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid base_id")
		return
	}
	limit, offset := pagination(r)

	events, total, err := s.deps.Ingest.ListKeyEvents(r.Context(), baseID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"key_events": events,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

// HandleListDevices lists known base units
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Ingest.ListDevices(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// HandleGetDevice returns one base unit
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	baseID, err := strconv.Atoi(chi.URLParam(r, "base_id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid base_id")
		return
	}

	device, err := s.deps.Ingest.GetDevice(r.Context(), baseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, device)
}
