package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/server"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
)

// CommandRequest is the body of POST /api/v1/relay/commands. An empty
// ClientID broadcasts to every connected client. Mode, KeyID, KeySN and
// Value are only read for parameter actions.
type CommandRequest struct {
	ClientID string          `json:"client_id,omitempty"`
	Action   protocol.Action `json:"action"`
	BaseID   int             `json:"base_id"`

	Mode  *int   `json:"mode,omitempty"`
	KeyID int    `json:"key_id,omitempty"`
	KeySN string `json:"key_sn,omitempty"`
	Value string `json:"value,omitempty"`
}

// CommandResponse reports how many clients received the command
type CommandResponse struct {
	Action    protocol.Action `json:"action"`
	BaseID    int             `json:"base_id"`
	Delivered int             `json:"delivered"`
}

func (r CommandRequest) paramRequest() protocol.ParamRequest {
	pr := protocol.ParamRequest{KeyID: r.KeyID, KeySN: r.KeySN, Value: r.Value}
	if r.Mode != nil {
		pr.Mode = *r.Mode
	}
	return pr
}

// HandleListClients lists connected relay clients
func (s *RESTServer) HandleListClients(w http.ResponseWriter, r *http.Request) {
	clients := s.deps.Relay.Clients()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"total":   len(clients),
	})
}

// HandleRelayStats returns relay server statistics
func (s *RESTServer) HandleRelayStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Relay.Stats())
}

// HandleSendCommand sends a vote or parameter command to one client or all of them
func (s *RESTServer) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Action.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if req.Action.IsParam() && req.Mode == nil {
		s.respondError(w, http.StatusBadRequest, "mode is required for parameter actions")
		return
	}

	operator := ""
	if claims := claimsFrom(r.Context()); claims != nil {
		operator = claims.Username
	}

	resp := CommandResponse{Action: req.Action, BaseID: req.BaseID}
	relay := s.deps.Relay
	if req.ClientID == "" {
		if req.Action.IsParam() {
			resp.Delivered = relay.BroadcastParam(req.Action, req.BaseID, req.paramRequest())
		} else {
			resp.Delivered = relay.Broadcast(req.Action, req.BaseID)
		}
	} else {
		var err error
		if req.Action.IsParam() {
			err = relay.SendParamCommand(req.ClientID, req.Action, req.BaseID, req.paramRequest())
		} else {
			err = relay.SendCommand(req.ClientID, req.Action, req.BaseID)
		}
		switch {
		case errors.Is(err, server.ErrClientNotFound):
			s.respondError(w, http.StatusNotFound, "client not found")
			return
		case errors.Is(err, server.ErrInvalidAction):
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp.Delivered = 1
	}

	log.Info().
		Str("operator", operator).
		Str("client", req.ClientID).
		Str("action", string(req.Action)).
		Int("base_id", req.BaseID).
		Int("delivered", resp.Delivered).
		Msg("Relay command sent")

	s.respondJSON(w, http.StatusOK, resp)
}

// HandleListRelayKeyEvents lists key events persisted by the relay server
func (s *RESTServer) HandleListRelayKeyEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.RelayEvents == nil {
		s.respondError(w, http.StatusNotFound, "relay event store not available")
		return
	}

	baseID, err := optionalInt(r, "base_id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid base_id")
		return
	}
	filters := storage.KeyEventFilters{BaseID: baseID}
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		filters.ClientID = &clientID
	}
	limit, offset := pagination(r)

	events, total, err := s.deps.RelayEvents.ListKeyEvents(r.Context(), filters, limit, offset)
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
