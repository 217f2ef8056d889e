package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder 持久化自定义人格记录；内存实现用于测试，SQLite 实现见 internal/store。
type Recorder interface {
	SavePersona(ctx context.Context, slug, data string) error
}

// Invalidator is notified synchronously after a custom persona changes so
// derived caches (rendered prompts) can drop the stale entry. The call is
// best-effort: implementations must not fail the upsert.
type Invalidator interface {
	InvalidatePersona(slug string)
}

// NopInvalidator 是未接入缓存时的空实现。
type NopInvalidator struct{}

func (NopInvalidator) InvalidatePersona(string) {}

// Registry resolves persona slugs against the built-in set and a mutable
// custom set. Lookups are read-mostly; custom updates swap in a fresh map
// copy under the write lock.
type Registry struct {
	builtins    map[string]Persona
	order       []string
	recorder    Recorder
	invalidator Invalidator

	mu     sync.RWMutex
	custom map[string]Persona
}

// NewRegistry builds a registry from the built-in set and previously
// persisted custom records (slug -> raw JSON). Records that fail to decode
// are skipped with a log line rather than aborting startup.
func NewRegistry(builtins []Persona, records map[string]string, recorder Recorder) *Registry {
	r := &Registry{
		builtins:    make(map[string]Persona, len(builtins)),
		recorder:    recorder,
		invalidator: NopInvalidator{},
		custom:      make(map[string]Persona, len(records)),
	}

	for _, p := range builtins {
		p.Builtin = true
		r.builtins[p.Slug] = p
		r.order = append(r.order, p.Slug)
	}

	for slug, data := range records {
		var p Persona
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Printf("[persona] skipping corrupt custom record %s: %v", slug, err)
			continue
		}
		p.Slug = slug
		p.Builtin = false
		r.custom[slug] = p
	}

	return r
}

// SetInvalidator wires the prompt cache; a nil value restores the no-op.
func (r *Registry) SetInvalidator(inv Invalidator) {
	if inv == nil {
		inv = NopInvalidator{}
	}
	r.invalidator = inv
}

// Resolve is total: empty or unknown slugs fall back to the default
// built-in, built-ins win over colliding custom slugs, and a custom record
// without a precomputed instruction gets one synthesized best-effort.
func (r *Registry) Resolve(slug string) Persona {
	slug = strings.TrimSpace(slug)
	if slug != "" {
		if p, ok := r.builtins[slug]; ok {
			return p
		}

		r.mu.RLock()
		p, ok := r.custom[slug]
		r.mu.RUnlock()
		if ok {
			if p.SystemPrompt == "" {
				// 合成失败（无可渲染字段）时原样返回记录。
				if rendered := Render(p, "", ""); rendered != "" {
					p.SystemPrompt = rendered
				}
			}
			return p
		}
	}

	return r.builtins[DefaultSlug]
}

// Upsert stores a custom persona, deriving and normalizing the slug when
// absent, and returns the resolved slug. The record must persist; cache
// invalidation afterwards is best-effort.
func (r *Registry) Upsert(ctx context.Context, p Persona, image string) (string, error) {
	slug := NormalizeSlug(p.Slug)
	if slug == "" {
		slug = newCustomSlug()
	}
	p.Slug = slug
	p.Builtin = false
	if image != "" {
		p.Image = image
	}
	if p.Name == "" {
		p.Name = "自定义人格"
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = Render(p, "", "")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode persona: %w", err)
	}
	if err := r.recorder.SavePersona(ctx, slug, string(data)); err != nil {
		return "", fmt.Errorf("persist persona: %w", err)
	}

	r.mu.Lock()
	custom := make(map[string]Persona, len(r.custom)+1)
	for key, value := range r.custom {
		custom[key] = value
	}
	custom[slug] = p
	r.custom = custom
	r.mu.Unlock()

	r.invalidator.InvalidatePersona(slug)
	return slug, nil
}

// ListCustom returns custom personas ordered by slug.
func (r *Registry) ListCustom() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Persona, 0, len(r.custom))
	for _, p := range r.custom {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
	return items
}

// List returns built-ins in seed order followed by custom personas.
func (r *Registry) List() []Persona {
	items := make([]Persona, 0, len(r.order))
	for _, slug := range r.order {
		items = append(items, r.builtins[slug])
	}
	return append(items, r.ListCustom()...)
}

// taxonomy categories always present in the response, even when empty.
var defaultCategories = []string{"traits", "background", "style"}

// Taxonomy unions tag values across every persona, under either the grouped
// categories field or the flat legacy fields, deduplicated and sorted.
func (r *Registry) Taxonomy() map[string][]string {
	seen := make(map[string]map[string]struct{}, len(defaultCategories))
	for _, category := range defaultCategories {
		seen[category] = make(map[string]struct{})
	}

	collect := func(category string, values []string) {
		if len(values) == 0 {
			return
		}
		if _, ok := seen[category]; !ok {
			seen[category] = make(map[string]struct{})
		}
		for _, value := range values {
			if value = strings.TrimSpace(value); value != "" {
				seen[category][value] = struct{}{}
			}
		}
	}

	for _, p := range r.List() {
		collect("traits", p.Traits)
		collect("background", p.BackgroundTags)
		collect("style", p.StyleTags)
		for category, values := range p.Categories {
			collect(category, values)
		}
	}

	taxonomy := make(map[string][]string, len(seen))
	for category, values := range seen {
		sorted := make([]string, 0, len(values))
		for value := range values {
			sorted = append(sorted, value)
		}
		sort.Strings(sorted)
		taxonomy[category] = sorted
	}
	return taxonomy
}

// NormalizeSlug lowercases and reduces a candidate slug to a URL-safe token.
func NormalizeSlug(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	lastDash := true // suppress leading dashes
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// newCustomSlug derives an identifier from wall clock plus random suffix so
// two back-to-back upserts without explicit slugs never collide.
func newCustomSlug() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("custom-%d-%s", time.Now().UnixMilli(), suffix)
}
