package placeholder

// Kind tells where a placeholder's value comes from
type Kind string

const (
	KindAuto   Kind = "auto"
	KindCustom Kind = "custom"
)

// IsAuto reports whether name is a reserved auto placeholder.
// The match is exact and case-sensitive.
func (r *Registry) IsAuto(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Classify returns KindAuto for registry members and KindCustom otherwise
func (r *Registry) Classify(name string) Kind {
	if r.IsAuto(name) {
		return KindAuto
	}
	return KindCustom
}

// Classified is a placeholder name with its kind
type Classified struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// ClassifyAll extracts names from texts and classifies each of them
func (r *Registry) ClassifyAll(texts ...string) []Classified {
	names := ExtractAll(texts...)
	out := make([]Classified, len(names))
	for i, name := range names {
		out[i] = Classified{Name: name, Kind: r.Classify(name)}
	}
	return out
}
