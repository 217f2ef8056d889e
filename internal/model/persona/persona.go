// Package persona holds the persona record type, the deterministic system
// instruction renderer and the registry combining built-in and custom sets.
package persona

import "encoding/json"

// Example 表示写入系统指令的少样本示例对话。
type Example struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Persona captures the full role definition exposed to the frontend. Field
// names follow the reference creation form. Fields unknown to this schema
// are preserved opaquely so an administrative edit-and-resave round-trips
// them unchanged.
type Persona struct {
	Slug          string              `json:"slug,omitempty"`
	Name          string              `json:"name"`
	Identity      string              `json:"identity,omitempty"`
	Goals         []string            `json:"goals,omitempty"`
	Tone          string              `json:"tone,omitempty"`
	StyleRules    string              `json:"style_rules,omitempty"`
	LengthLimit   string              `json:"length_limit,omitempty"`
	Backstory     string              `json:"backstory,omitempty"`
	Traits        []string            `json:"traits,omitempty"`
	RefusalPolicy string              `json:"refusal_policy,omitempty"`
	AntiInjection string              `json:"anti_prompt_injection,omitempty"`
	OutputFormat  string              `json:"output_format,omitempty"`
	Examples      []Example           `json:"examples,omitempty"`
	Categories    map[string][]string `json:"categories,omitempty"`

	// Legacy flat tag fields, still honored by the taxonomy endpoint.
	BackgroundTags []string `json:"background,omitempty"`
	StyleTags      []string `json:"style,omitempty"`

	Image        string `json:"image,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Builtin      bool   `json:"builtin,omitempty"`

	extra map[string]json.RawMessage
}

// knownFields mirrors the json tags above; anything else lands in extra.
var knownFields = map[string]struct{}{
	"slug": {}, "name": {}, "identity": {}, "goals": {}, "tone": {},
	"style_rules": {}, "length_limit": {}, "backstory": {}, "traits": {},
	"refusal_policy": {}, "anti_prompt_injection": {}, "output_format": {},
	"examples": {}, "categories": {}, "background": {}, "style": {},
	"image": {}, "system_prompt": {}, "builtin": {},
}

type personaAlias Persona

// UnmarshalJSON decodes the known schema and stashes unrecognized fields.
func (p *Persona) UnmarshalJSON(data []byte) error {
	var alias personaAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := knownFields[key]; ok {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		alias.extra = raw
	}

	*p = Persona(alias)
	return nil
}

// MarshalJSON re-emits the schema fields plus any preserved unknown fields.
func (p Persona) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(personaAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}
