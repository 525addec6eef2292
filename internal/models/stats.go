package models

// ClientStats is a snapshot of one relay client session
type ClientStats struct {
	ClientID      string  `json:"client_id"`
	Addr          string  `json:"addr"`
	ConnectedAt   string  `json:"connected_at"`
	LastSeen      string  `json:"last_seen"`
	KeyEventCount int64   `json:"key_event_count"`
	Messages      int64   `json:"messages"`
	Malformed     int64   `json:"malformed"`
	IdleSeconds   float64 `json:"idle_seconds"`
}

// ServerStats summarizes relay server activity
type ServerStats struct {
	Running          bool    `json:"running"`
	Listen           string  `json:"listen"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	ActiveClients    int     `json:"active_clients"`
	TotalConnections int64   `json:"total_connections"`
	KeyEventsStored  int64   `json:"key_events_stored"`
	KeyEventsDropped int64   `json:"key_events_dropped"`
	RejectedEvents   int64   `json:"rejected_events"`
	MalformedLines   int64   `json:"malformed_lines"`
	StorageErrors    int64   `json:"storage_errors"`
}
