package nuke

import "github.com/sydlexius/intake/internal/connection"

// BatchRequest is the body of POST /api-v1-batch.
type BatchRequest struct {
	Vehicles []connection.VehicleRecord `json:"vehicles"`
	Options  connection.DedupOptions    `json:"options"`
}
