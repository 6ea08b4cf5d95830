package domain

import "time"

// RoomSnapshot is a point-in-time copy of a room's membership.
type RoomSnapshot struct {
	StreamID  StreamID       `json:"streamId"`
	Members   []ConnectionID `json:"members"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RelayStats summarizes relay state for health and stats endpoints.
type RelayStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}
