package entity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/internal/memstore"
	"gopkg.in/yaml.v3"
)

func newsRegistry(t *testing.T, defs ...entity.TypeDef) *entity.Registry {
	t.Helper()
	reg := entity.NewRegistry()
	for _, name := range []string{"News", "Event"} {
		if err := reg.RegisterModel(name, func(e *entity.Entity) entity.Model { return &News{e} }); err != nil {
			t.Fatalf("RegisterModel failed: %v", err)
		}
	}
	if err := reg.Load(defs); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	reg.Freeze()
	return reg
}

func TestValidateFieldName(t *testing.T) {
	tests := []struct {
		name     string
		reserved bool
	}{
		{"id", true},
		{"content", true},
		{"featured_image", true},
		{"is_first", true},
		{"subtitle", false},
		{"price", false},
	}
	for _, tt := range tests {
		err := entity.ValidateFieldName(tt.name)
		if got := errors.Is(err, entity.ErrReservedField); got != tt.reserved {
			t.Errorf("ValidateFieldName(%q) = %v, reserved want %v", tt.name, err, tt.reserved)
		}
	}
}

func TestTypeSyncSignalsOnlyOnChange(t *testing.T) {
	opts := memstore.New()
	ctx := context.Background()
	defs := []entity.TypeDef{{Name: "News"}, {Name: "Post"}, {Name: "Page"}, {Name: "Attachment"}}

	changed, err := newsRegistry(t, defs...).Sync(ctx, opts)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !changed {
		t.Errorf("first Sync changed = false, want true")
	}

	changed, err = newsRegistry(t, defs...).Sync(ctx, opts)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if changed {
		t.Errorf("second Sync with identical types changed = true, want false")
	}

	changed, err = newsRegistry(t, append(defs, entity.TypeDef{Name: "Event"})...).Sync(ctx, opts)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !changed {
		t.Errorf("Sync after adding a type changed = false, want true")
	}
}

func TestBuiltInsAlwaysBound(t *testing.T) {
	reg := newsRegistry(t)
	for _, typ := range []string{entity.TypePost, entity.TypePage, entity.TypeAttachment} {
		b, ok := reg.Lookup(typ)
		if !ok {
			t.Errorf("Lookup(%q) missing", typ)
			continue
		}
		if !b.BuiltIn {
			t.Errorf("Lookup(%q).BuiltIn = false", typ)
		}
	}
	if b, ok := reg.BySlug("blog"); !ok || b.Type != entity.TypePost {
		t.Errorf("BySlug(blog) = %+v, %v; want post", b, ok)
	}
	if n := len(reg.Types()); n != 3 {
		t.Errorf("Types() = %d bindings, want 3", n)
	}
}

func TestDefineErrors(t *testing.T) {
	reg := entity.NewRegistry()
	if err := reg.Define(entity.TypeDef{Name: "Missing"}); !errors.Is(err, entity.ErrUnknownModel) {
		t.Errorf("Define(Missing) error = %v, want ErrUnknownModel", err)
	}
	if err := reg.Define(entity.TypeDef{Name: "Page", Type: entity.TypePost}); !errors.Is(err, entity.ErrDuplicateType) {
		t.Errorf("Define(Page as post) error = %v, want ErrDuplicateType", err)
	}
	err := reg.Define(entity.TypeDef{Name: "Post", Type: "story", Fields: []string{"subtitle", "content"}})
	if !errors.Is(err, entity.ErrReservedField) {
		t.Errorf("Define with reserved field error = %v, want ErrReservedField", err)
	}

	reg.Freeze()
	if err := reg.Define(entity.TypeDef{Name: "Post", Type: "story"}); !errors.Is(err, entity.ErrFrozen) {
		t.Errorf("Define after Freeze error = %v, want ErrFrozen", err)
	}
}

func TestDefineRejectsTakenSlug(t *testing.T) {
	tests := []struct {
		name string
		defs []entity.TypeDef
	}{
		{"built-in slug", []entity.TypeDef{{Name: "News", Slug: "blog"}}},
		{"custom slug", []entity.TypeDef{{Name: "News", Slug: "stories"}, {Name: "Event", Slug: "stories"}}},
		{"slug equals other type", []entity.TypeDef{{Name: "News"}, {Name: "Event", Slug: "news"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := entity.NewRegistry()
			for _, name := range []string{"News", "Event"} {
				if err := reg.RegisterModel(name, func(e *entity.Entity) entity.Model { return &News{e} }); err != nil {
					t.Fatalf("RegisterModel failed: %v", err)
				}
			}
			if err := reg.Load(tt.defs); !errors.Is(err, entity.ErrDuplicateType) {
				t.Errorf("Load error = %v, want ErrDuplicateType", err)
			}
		})
	}
}

func TestTypeDefFromYAML(t *testing.T) {
	src := `
- News
- name: Event
  slug: events
  archive: false
  fields: [venue, starts_at]
`
	var defs []entity.TypeDef
	if err := yaml.Unmarshal([]byte(src), &defs); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v", err)
	}
	reg := newsRegistry(t, defs...)

	news, ok := reg.Lookup("news")
	if !ok || news.Model != "News" || news.Def.Slug != "news" || !news.Def.HasArchive() {
		t.Errorf("news binding = %+v", news)
	}
	event, ok := reg.Lookup("event")
	if !ok || event.Def.Slug != "events" || event.Def.HasArchive() || len(event.Def.Fields) != 2 {
		t.Errorf("event binding = %+v", event)
	}
}
