package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eringen/starch/internal/fingerprint"
)

// OptionTypesHash is the option key holding the last registered type set
// fingerprint.
const OptionTypesHash = "types_hash"

var reservedFields = []string{
	FieldID,
	FieldTitle,
	FieldLink,
	FieldType,
	FieldDate,
	FieldModified,
	FieldSlug,
	FieldEditLink,
	FieldExcerpt,
	FieldUnfilteredContent,
	FieldContent,
	FieldAttachments,
	FieldFeaturedImage,
	FieldNext,
	FieldPrevious,
	FieldIsLast,
	FieldIsFirst,
}

// ValidateFieldName rejects custom field names the entity layer reserves.
func ValidateFieldName(name string) error {
	for _, r := range reservedFields {
		if name == r {
			return fmt.Errorf("%w: cannot use %q, custom field names cannot include: %s",
				ErrReservedField, name, strings.Join(reservedFields, ", "))
		}
	}
	return nil
}

// TypeDef declares a content type. In configuration a bare string is
// shorthand for a definition with only Name set.
type TypeDef struct {
	Name         string   `yaml:"name" json:"name"`
	Type         string   `yaml:"type,omitempty" json:"type,omitempty"`
	Singular     string   `yaml:"singular,omitempty" json:"singular,omitempty"`
	Plural       string   `yaml:"plural,omitempty" json:"plural,omitempty"`
	Slug         string   `yaml:"slug,omitempty" json:"slug,omitempty"`
	Archive      *bool    `yaml:"archive,omitempty" json:"archive,omitempty"`
	Public       *bool    `yaml:"public,omitempty" json:"public,omitempty"`
	MenuPosition int      `yaml:"menu_position,omitempty" json:"menu_position,omitempty"`
	Supports     []string `yaml:"supports,omitempty" json:"supports,omitempty"`
	Fields       []string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// UnmarshalYAML accepts either a scalar model name or a mapping.
func (d *TypeDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Name = node.Value
		return nil
	}
	type plain TypeDef
	return node.Decode((*plain)(d))
}

// UnmarshalJSON accepts either a string model name or an object.
func (d *TypeDef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		d.Name = name
		return nil
	}
	type plain TypeDef
	return json.Unmarshal(data, (*plain)(d))
}

// HasArchive reports whether the type lists its records at its slug.
func (d TypeDef) HasArchive() bool { return d.Archive == nil || *d.Archive }

// IsPublic reports whether the type is publicly queryable.
func (d TypeDef) IsPublic() bool { return d.Public == nil || *d.Public }

func (d TypeDef) normalized() TypeDef {
	if d.Type == "" {
		d.Type = strings.ToLower(d.Name)
	}
	if d.Singular == "" {
		d.Singular = d.Name
	}
	if d.Plural == "" {
		d.Plural = d.Singular + "s"
	}
	if d.Slug == "" {
		d.Slug = d.Type
	}
	if d.MenuPosition == 0 {
		d.MenuPosition = 20
	}
	return d
}

// Binding ties a discriminator to the model that materializes it.
type Binding struct {
	Type    string  `cbor:"type"`
	Model   string  `cbor:"model"`
	BuiltIn bool    `cbor:"built_in"`
	Def     TypeDef `cbor:"def"`

	factory Factory
}

// Built-in type definitions, always present in addition to configured ones.
var builtIn = []TypeDef{
	{Name: "Post", Type: TypePost, Slug: "blog"},
	{Name: "Page", Type: TypePage, Archive: boolPtr(false)},
	{Name: "Attachment", Type: TypeAttachment, Slug: "uploads", Archive: boolPtr(false)},
}

func boolPtr(b bool) *bool { return &b }

// Registry maps type discriminators to models. It is written during startup
// and must be frozen before requests are served; after Freeze it is safe
// for concurrent reads.
type Registry struct {
	factories map[string]Factory
	bindings  map[string]*Binding
	frozen    bool
}

// NewRegistry returns a registry with the built-in models registered and
// the built-in types bound.
func NewRegistry() *Registry {
	r := &Registry{
		factories: map[string]Factory{
			"Post":       newPost,
			"Page":       newPage,
			"Attachment": newAttachment,
		},
		bindings: make(map[string]*Binding),
	}
	for _, def := range builtIn {
		def = def.normalized()
		r.bindings[def.Type] = &Binding{
			Type:    def.Type,
			Model:   def.Name,
			BuiltIn: true,
			Def:     def,
			factory: r.factories[def.Name],
		}
	}
	return r
}

// RegisterModel makes a model constructor available to type definitions.
func (r *Registry) RegisterModel(name string, f Factory) error {
	if r.frozen {
		return ErrFrozen
	}
	if name == "" || f == nil {
		return fmt.Errorf("starch: model needs a name and a factory")
	}
	r.factories[name] = f
	return nil
}

// Define binds def's discriminator to its model. Redefining a built-in type
// with its own model is a no-op. It fails with ErrUnknownModel when the
// model was never registered, ErrDuplicateType when the discriminator or
// slug is taken by another type, and ErrReservedField when a custom field
// name is reserved.
func (r *Registry) Define(def TypeDef) error {
	if r.frozen {
		return ErrFrozen
	}
	if def.Name == "" {
		return fmt.Errorf("%w: type definition without a model name", ErrUnknownModel)
	}
	def = def.normalized()

	if existing, ok := r.bindings[def.Type]; ok {
		if existing.BuiltIn && existing.Model == def.Name {
			return nil
		}
		if existing.Model != def.Name {
			return fmt.Errorf("%w: %q is bound to %s, not %s", ErrDuplicateType, def.Type, existing.Model, def.Name)
		}
	}
	for _, b := range r.bindings {
		if b.Type != def.Type && b.Def.Slug == def.Slug {
			return fmt.Errorf("%w: slug %q of %q is used by %q", ErrDuplicateType, def.Slug, def.Type, b.Type)
		}
	}

	f, ok := r.factories[def.Name]
	if !ok {
		return fmt.Errorf("%w: %s (type %q)", ErrUnknownModel, def.Name, def.Type)
	}
	for _, field := range def.Fields {
		if err := ValidateFieldName(field); err != nil {
			return fmt.Errorf("type %q: %w", def.Type, err)
		}
	}
	r.bindings[def.Type] = &Binding{Type: def.Type, Model: def.Name, Def: def, factory: f}
	return nil
}

// Load defines every configured type followed by the built-ins.
func (r *Registry) Load(defs []TypeDef) error {
	all := append(append([]TypeDef{}, defs...), builtIn...)
	for _, def := range all {
		if err := r.Define(def); err != nil {
			return err
		}
	}
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() { r.frozen = true }

// Lookup returns the binding for a discriminator.
func (r *Registry) Lookup(typ string) (Binding, bool) {
	b, ok := r.bindings[typ]
	if !ok {
		return Binding{}, false
	}
	return *b, true
}

// BySlug returns the binding whose URL slug is slug.
func (r *Registry) BySlug(slug string) (Binding, bool) {
	for _, b := range r.bindings {
		if b.Def.Slug == slug {
			return *b, true
		}
	}
	return Binding{}, false
}

// Types returns every binding sorted by discriminator.
func (r *Registry) Types() []Binding {
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Fingerprint returns the digest of the full binding set.
func (r *Registry) Fingerprint() (string, error) {
	return fingerprint.Sum(fingerprint.Types, r.Types())
}

// Sync compares the binding set with the fingerprint persisted in opts. On
// a mismatch the new fingerprint is stored and changed is true, meaning
// structural rules derived from the types must be regenerated.
func (r *Registry) Sync(ctx context.Context, opts Options) (changed bool, err error) {
	sum, err := r.Fingerprint()
	if err != nil {
		return false, err
	}
	prev, err := opts.Option(ctx, OptionTypesHash)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", OptionTypesHash, err)
	}
	if prev == sum {
		return false, nil
	}
	if err := opts.SetOption(ctx, OptionTypesHash, sum); err != nil {
		return false, fmt.Errorf("storing %s: %w", OptionTypesHash, err)
	}
	return true, nil
}
