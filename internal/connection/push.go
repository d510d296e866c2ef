package connection

import "context"

// MatchByVIN tells the ingestion endpoint to de-duplicate on VIN.
const MatchByVIN = "vin"

// VehicleRecord is the minimal record sent for each hinted file. Unknown
// fields are sent as JSON null.
type VehicleRecord struct {
	Year        *string `json:"year"`
	Make        *string `json:"make"`
	Model       *string `json:"model"`
	VIN         *string `json:"vin"`
	Description string  `json:"description"`
}

// DedupOptions controls how the endpoint treats records it already holds.
type DedupOptions struct {
	SkipDuplicates bool   `json:"skip_duplicates"`
	MatchBy        string `json:"match_by"`
}

// DefaultDedup skips records whose VIN is already known.
func DefaultDedup() DedupOptions {
	return DedupOptions{SkipDuplicates: true, MatchBy: MatchByVIN}
}

// BatchPusher sends one batch of vehicle records to an ingestion endpoint.
// A nil error means the endpoint accepted the whole batch.
type BatchPusher interface {
	PushBatch(ctx context.Context, records []VehicleRecord, opts DedupOptions) error
}
