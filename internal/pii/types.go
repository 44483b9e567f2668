package pii

// EntityType identifies the kind of PII a span denotes.
type EntityType string

const (
	TypePerson      EntityType = "PERSON"
	TypeOrg         EntityType = "ORG"
	TypeGPE         EntityType = "GPE"
	TypeLoc         EntityType = "LOC"
	TypeFac         EntityType = "FAC"
	TypeDate        EntityType = "DATE"
	TypeEmail       EntityType = "EMAIL"
	TypePhone       EntityType = "PHONE"
	TypeSSN         EntityType = "SSN"
	TypeCreditCard  EntityType = "CREDIT_CARD"
	TypeURL         EntityType = "URL"
	TypeIPAddress   EntityType = "IP_ADDRESS"
	TypeDateOfBirth EntityType = "DATE_OF_BIRTH"
)

// DetectionMethod records which detector produced an entity.
type DetectionMethod string

const (
	MethodPattern DetectionMethod = "pattern"
	MethodModel   DetectionMethod = "model"
)

// Entity is a detected PII occurrence. Spans are half-open [Start, End)
// character offsets into the source text. Entities are immutable once
// produced.
type Entity struct {
	Text       string          `json:"text"`
	Start      int             `json:"start"`
	End        int             `json:"end"`
	Type       EntityType      `json:"type"`
	Method     DetectionMethod `json:"detection_method"`
	Confidence float64         `json:"confidence"`
}

// Overlaps reports whether two spans intersect. Touching spans
// (end == start) do not overlap.
func (e Entity) Overlaps(other Entity) bool {
	return !(e.End <= other.Start || e.Start >= other.End)
}

// Stats summarizes a detection run.
type Stats struct {
	TotalEntities int                `json:"total_entities"`
	ByType        map[EntityType]int `json:"by_type"`
	ByMethod      map[DetectionMethod]int `json:"by_method"`
	UniqueValues  int                `json:"unique_values"`
}

// Statistics aggregates counts over a detected entity list.
func Statistics(entities []Entity) Stats {
	stats := Stats{
		TotalEntities: len(entities),
		ByType:        make(map[EntityType]int),
		ByMethod:      make(map[DetectionMethod]int),
	}
	unique := make(map[string]struct{})
	for _, e := range entities {
		stats.ByType[e.Type]++
		stats.ByMethod[e.Method]++
		unique[e.Text] = struct{}{}
	}
	stats.UniqueValues = len(unique)
	return stats
}
