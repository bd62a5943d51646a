package model

import "time"

// Server is an entry in the registry of known remote sharing servers.
type Server struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}
