package kindwise

// Result is the simplified projection of a provider identification response
// that gets persisted with the record. Suggestion-derived fields come from
// the highest-ranked suggestion and stay absent/empty when the provider
// returned none; that is still a successful identification.
type Result struct {
	PlantName        string            `json:"plant_name,omitempty"`
	CommonNames      []string          `json:"common_names"`
	Probability      *float64          `json:"probability,omitempty"`
	Taxonomy         map[string]string `json:"taxonomy"`
	IdentificationID string            `json:"identification_id"`
	IsPlant          bool              `json:"is_plant"`
	Created          string            `json:"created"`
}
