package route_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/eringen/starch/route"
	"gopkg.in/yaml.v3"
)

func TestDeclsKeepDocumentOrder(t *testing.T) {
	want := route.Decls{
		{Pattern: "blog/:id", Handler: "Post", Action: "view", Args: 1},
		{Pattern: "archive", Handler: "Post", Action: "archive"},
		{Pattern: "about", Handler: "Page", Action: "about", Args: 0},
	}

	var fromYAML route.Decls
	src := "blog/:id: [Post, view, 1]\narchive: [Post, archive]\nabout: [Page, about, 0]\n"
	if err := yaml.Unmarshal([]byte(src), &fromYAML); err != nil {
		t.Fatalf("yaml.Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(fromYAML, want) {
		t.Errorf("yaml decls = %+v, want %+v", fromYAML, want)
	}

	var fromJSON route.Decls
	js := `{"blog/:id": ["Post", "view", 1], "archive": ["Post", "archive"], "about": ["Page", "about", "0"]}`
	if err := json.Unmarshal([]byte(js), &fromJSON); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(fromJSON, want) {
		t.Errorf("json decls = %+v, want %+v", fromJSON, want)
	}

	tbl := route.NewTable()
	if err := tbl.Load(fromYAML); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n := len(tbl.Entries()); n != 3 {
		t.Errorf("Entries = %d, want 3", n)
	}
}

func TestDeclNeedsHandlerAndAction(t *testing.T) {
	var d route.Decls
	err := yaml.Unmarshal([]byte("broken: [Post]\n"), &d)
	if !errors.Is(err, route.ErrInvalidRoute) {
		t.Errorf("error = %v, want ErrInvalidRoute", err)
	}
	err = json.Unmarshal([]byte(`{"broken": ["Post", "view", true]}`), &d)
	if !errors.Is(err, route.ErrInvalidRoute) {
		t.Errorf("error = %v, want ErrInvalidRoute", err)
	}
}
