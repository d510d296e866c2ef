package provider

// Name identifies an outbound service the application calls.
type Name string

// Known outbound services.
const (
	NameOllama Name = "ollama"
	NameNuke   Name = "nuke"
)

// AllNames returns every known service name.
func AllNames() []Name {
	return []Name{NameOllama, NameNuke}
}
