package scanner

import (
	"time"

	"github.com/sydlexius/intake/internal/hint"
)

// DefaultMaxDepth bounds recursion when Config.MaxDepth is unset.
const DefaultMaxDepth = 10

// Category classifies a file by extension.
type Category string

// Known categories. CategoryUnknown is computed but never admitted.
const (
	CategoryImage       Category = "image"
	CategoryDocument    Category = "document"
	CategorySpreadsheet Category = "spreadsheet"
	CategoryUnknown     Category = "unknown"
)

// Config selects the roots to walk and which files to admit.
type Config struct {
	Paths               []string `json:"paths" yaml:"paths"`
	IncludeHidden       bool     `json:"include_hidden" yaml:"include_hidden"`
	MaxDepth            *int     `json:"max_depth,omitempty" yaml:"max_depth"`
	IncludeImages       bool     `json:"include_images" yaml:"include_images"`
	IncludeDocuments    bool     `json:"include_documents" yaml:"include_documents"`
	IncludeSpreadsheets bool     `json:"include_spreadsheets" yaml:"include_spreadsheets"`
}

// Depth returns the effective recursion bound. The root is depth 0, so a
// bound of 1 admits only the root's direct children.
func (c Config) Depth() int {
	if c.MaxDepth == nil {
		return DefaultMaxDepth
	}
	return *c.MaxDepth
}

// Admits reports whether files of the given category pass the include flags.
func (c Config) Admits(cat Category) bool {
	switch cat {
	case CategoryImage:
		return c.IncludeImages
	case CategoryDocument:
		return c.IncludeDocuments
	case CategorySpreadsheet:
		return c.IncludeSpreadsheets
	default:
		return false
	}
}

// AdmitsFile reports whether a file name passes the include flags.
func (c Config) AdmitsFile(name string) bool {
	return c.Admits(CategoryFor(Extension(name)))
}

// Result describes one admitted file. Results are never mutated after a scan
// returns them.
type Result struct {
	Path      string            `json:"path"`
	Filename  string            `json:"filename"`
	Extension string            `json:"file_type"`
	Category  Category          `json:"category"`
	Size      int64             `json:"size"`
	Modified  string            `json:"modified"` // unix seconds, decimal
	Hint      *hint.VehicleHint `json:"potential_vehicle,omitempty"`
}

// Progress reports how far a scan has come.
type Progress struct {
	Scanned     int    `json:"scanned"`
	Found       int    `json:"found"`
	CurrentPath string `json:"current_path"`
	Complete    bool   `json:"complete"`
}

// Job statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job tracks a background scan started with Service.Run.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"` // "running", "completed", "failed"
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Config      Config     `json:"config"`
	Scanned     int        `json:"scanned"`
	Found       int        `json:"found"`
	Hinted      int        `json:"hinted"`
	Error       string     `json:"error,omitempty"`
	Results     []Result   `json:"results,omitempty"`
}
