package record

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// FieldKind classifies a discovered catalogue field.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
)

// Field is one entry of the field catalogue: a stable dotted/indexed path,
// its inferred kind, and an example value taken from the first record that
// exposed it.
type Field struct {
	Path    string    `json:"path"`
	Kind    FieldKind `json:"kind"`
	Example string    `json:"example,omitempty"`
}

// Catalogue is the ordered set of fields discovered in a source. Insertion
// order is preserved because it reflects the feed's authoring order; entries
// are never removed once seen.
type Catalogue struct {
	fields *orderedmap.OrderedMap[string, Field]
}

func NewCatalogue() *Catalogue {
	return &Catalogue{fields: orderedmap.New[string, Field]()}
}

// Add registers a field path. A path already present keeps its original
// position and kind; only an empty example is backfilled.
func (c *Catalogue) Add(path string, kind FieldKind, example string) {
	if existing, ok := c.fields.Get(path); ok {
		if existing.Example == "" && example != "" {
			existing.Example = example
			c.fields.Set(path, existing)
		}
		return
	}
	c.fields.Set(path, Field{Path: path, Kind: kind, Example: example})
}

// Merge folds another catalogue into this one. Later pages of a sampled feed
// may reveal fields absent from earlier pages; merging accumulates them
// without disturbing first-seen order.
func (c *Catalogue) Merge(other *Catalogue) {
	if other == nil {
		return
	}
	for pair := other.fields.Oldest(); pair != nil; pair = pair.Next() {
		c.Add(pair.Value.Path, pair.Value.Kind, pair.Value.Example)
	}
}

func (c *Catalogue) Has(path string) bool {
	_, ok := c.fields.Get(path)
	return ok
}

func (c *Catalogue) Len() int {
	return c.fields.Len()
}

// Fields returns the catalogue entries in first-seen order.
func (c *Catalogue) Fields() []Field {
	out := make([]Field, 0, c.fields.Len())
	for pair := c.fields.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (c *Catalogue) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

// Record is one logical item extracted from a feed: an ordered flat or
// nested key/value structure keyed by catalogue paths, optionally carrying
// child variant records.
type Record struct {
	fields   *orderedmap.OrderedMap[string, any]
	Variants []*Record
}

func New() *Record {
	return &Record{fields: orderedmap.New[string, any]()}
}

// FromPairs builds a record from alternating key/value arguments. Test and
// fixture helper.
func FromPairs(pairs ...any) *Record {
	r := New()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return r
}

func (r *Record) Set(path string, value any) {
	r.fields.Set(path, value)
}

func (r *Record) Get(path string) (any, bool) {
	return r.fields.Get(path)
}

// GetString resolves a path to its string form; missing keys and nil values
// yield the empty string.
func (r *Record) GetString(path string) string {
	v, ok := r.fields.Get(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (r *Record) Len() int {
	return r.fields.Len()
}

// Keys returns the record's paths in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Each walks the record's fields in insertion order.
func (r *Record) Each(fn func(path string, value any)) {
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Map returns a plain map copy of the record's fields. Order is lost; used
// where the consumer binds by name (formula env, JSON payloads).
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	data, err := r.fields.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if len(r.Variants) == 0 {
		return data, nil
	}
	variants, err := json.Marshal(r.Variants)
	if err != nil {
		return nil, err
	}
	// Splice the variants into the object without re-ordering fields.
	body := strings.TrimSuffix(string(data), "}")
	if body == "{" {
		return []byte(fmt.Sprintf(`{"_variants":%s}`, variants)), nil
	}
	return []byte(fmt.Sprintf(`%s,"_variants":%s}`, body, variants)), nil
}
