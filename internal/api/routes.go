package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// setupIngestRoutes mounts the endpoints relay clients post to
func (s *RESTServer) setupIngestRoutes(r chi.Router) {
	r.Post("/key-events/create/", s.HandleCreateEvent(protocol.TypeKeyEvent))
	r.Get("/key-events/latest/", s.HandleLatestKeyEvent)
	r.Post("/connect-events/create/", s.HandleCreateEvent(protocol.TypeConnectEvent))
	r.Post("/vote-events/create/", s.HandleCreateEvent(protocol.TypeVoteEvent))
	r.Post("/hd-param-events/create/", s.HandleCreateEvent(protocol.TypeHDParamEvent))
	r.Post("/keypad-param-events/create/", s.HandleCreateEvent(protocol.TypeKeypadParamEvent))
}

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	r.Group(func(r chi.Router) {
		if s.deps.Ingest != nil {
			r.Route("/key-events", func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/", s.HandleListKeyEvents)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/", s.HandleListDevices)
				r.Get("/{base_id}", s.HandleGetDevice)
			})
		}

		if s.deps.Relay != nil {
			r.Route("/relay", func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/clients", s.HandleListClients)
				r.Get("/stats", s.HandleRelayStats)
				r.Post("/commands", s.HandleSendCommand)
				r.Get("/key-events", s.HandleListRelayKeyEvents)
			})
		}
	})
}
