package mapping

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Mode selects how a resolved source value is transformed before it reaches
// the catalogue.
type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeFormula Mode = "formula"
	ModeAI      Mode = "ai"
	ModeHybrid  Mode = "hybrid"
)

// Tristate is the boolean sub-mode: a hard yes/no, or a source lookup.
type Tristate string

const (
	TristateOff Tristate = ""
	TristateYes Tristate = "yes"
	TristateNo  Tristate = "no"
	TristateMap Tristate = "map"
)

// SelectMode is the fixed-or-mapped sub-mode for select-style target fields.
type SelectMode string

const (
	SelectOff   SelectMode = ""
	SelectFixed SelectMode = "fixed"
	SelectMap   SelectMode = "map"
)

// IdentifierMode controls how a target identifier is produced: looked up
// from the source, or generated from a pattern.
type IdentifierMode string

const (
	IdentifierOff      IdentifierMode = ""
	IdentifierMap      IdentifierMode = "map"
	IdentifierGenerate IdentifierMode = "generate"
)

// Entry is the mapping configuration for one target field.
type Entry struct {
	Source string `json:"source"`
	Mode   Mode   `json:"mode"`

	Formula  string `json:"formula,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Provider string `json:"provider,omitempty"`

	// UpdateOnSync controls whether re-imports overwrite an existing
	// target value for this field.
	UpdateOnSync bool `json:"update_on_sync"`

	Tristate   Tristate       `json:"tristate,omitempty"`
	Select     SelectMode     `json:"select,omitempty"`
	Fixed      string         `json:"fixed,omitempty"`
	Identifier IdentifierMode `json:"identifier,omitempty"`
	Pattern    string         `json:"pattern,omitempty"`
}

// Config holds the mapping entries keyed by target field. Authoring order
// survives JSON round-trips so transformed records keep the operator's
// field order.
type Config struct {
	entries *orderedmap.OrderedMap[string, Entry]
}

func NewConfig() Config {
	return Config{entries: orderedmap.New[string, Entry]()}
}

func (c *Config) Set(target string, e Entry) {
	if c.entries == nil {
		c.entries = orderedmap.New[string, Entry]()
	}
	c.entries.Set(target, e)
}

func (c Config) Get(target string) (Entry, bool) {
	if c.entries == nil {
		return Entry{}, false
	}
	return c.entries.Get(target)
}

// Entry returns the configuration for a target, zero when absent.
func (c Config) Entry(target string) Entry {
	e, _ := c.Get(target)
	return e
}

func (c Config) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Targets returns the configured target fields in authored order.
func (c Config) Targets() []string {
	out := make([]string, 0, c.Len())
	c.Each(func(target string, _ Entry) { out = append(out, target) })
	return out
}

// Each walks the entries in authored order.
func (c Config) Each(fn func(target string, e Entry)) {
	if c.entries == nil {
		return
	}
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

func (c Config) MarshalJSON() ([]byte, error) {
	if c.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.entries)
}

func (c *Config) UnmarshalJSON(b []byte) error {
	om := orderedmap.New[string, Entry]()
	if err := json.Unmarshal(b, om); err != nil {
		return err
	}
	c.entries = om
	return nil
}
