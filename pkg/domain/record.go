package domain

// Relationship names the downstream channel a record is handed to.
type Relationship string

const (
	// RelationshipSuccess receives records whose engine operation completed.
	RelationshipSuccess Relationship = "success"
	// RelationshipMatches receives records whose entity filter completed.
	RelationshipMatches Relationship = "matches"
	// RelationshipFailure receives records whose cycle raised an error.
	RelationshipFailure Relationship = "failure"
)

// Record is the unit of data flowing through the pipeline.
//
// A record is owned by exactly one in-flight processing cycle. Body and
// Attributes are mutated in place by that cycle and must not be shared.
type Record struct {
	ID         string
	Body       []byte
	Attributes map[string]string
}

// NewRecord builds a record with an initialised attribute map.
func NewRecord(id string, body []byte, attrs map[string]string) *Record {
	rec := &Record{ID: id, Body: body, Attributes: make(map[string]string, len(attrs))}
	for k, v := range attrs {
		rec.Attributes[k] = v
	}
	return rec
}

// PutAttribute sets an attribute, allocating the map on first use.
func (r *Record) PutAttribute(name, value string) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]string)
	}
	r.Attributes[name] = value
}
