package fingerprint

import (
	"strings"
	"testing"
)

func TestSumStableAcrossMapOrder(t *testing.T) {
	a := map[string][]any{
		"blog":    {"Post", "view", 1},
		"archive": {"Post", "archive", 0},
		"about":   {"Page", "single", 0},
	}
	b := map[string][]any{
		"about":   {"Page", "single", 0},
		"blog":    {"Post", "view", 1},
		"archive": {"Post", "archive", 0},
	}
	first, err := Sum(Routes, a)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	second, err := Sum(Routes, b)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if first != second {
		t.Errorf("fingerprints differ for equal maps: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(first))
	}
}

func TestSumDetectsChange(t *testing.T) {
	before, _ := Sum(Routes, map[string]int{"blog": 1})
	after, _ := Sum(Routes, map[string]int{"blog": 2})
	if before == after {
		t.Error("changing a value should change the fingerprint")
	}
}

func TestSumDomainSeparation(t *testing.T) {
	v := []string{"post", "page"}
	routes, _ := Sum(Routes, v)
	types, _ := Sum(Types, v)
	if routes == types {
		t.Error("same value under different domains should not collide")
	}
}

func TestSumRejectsBadDomain(t *testing.T) {
	if _, err := Sum("", 1); err == nil {
		t.Error("expected error for empty domain")
	}
	if _, err := Sum(strings.Repeat("x", 33), 1); err == nil {
		t.Error("expected error for domain longer than 32 bytes")
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	type rule struct {
		Pattern string
		Slots   int
	}
	data, err := Marshal([]rule{{Pattern: "^blog/([^/]+)/?", Slots: 1}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got []rule
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(got) != 1 || got[0].Pattern != "^blog/([^/]+)/?" || got[0].Slots != 1 {
		t.Errorf("decoded = %+v", got)
	}
}
