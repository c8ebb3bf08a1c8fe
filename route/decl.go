package route

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Decl is one configured route.
type Decl struct {
	Pattern string
	Handler string
	Action  string
	Args    int
}

// Decls is the ordered route configuration. In YAML and JSON it is a
// mapping from pattern to [handler, action, args]; args may be omitted.
//
//	blog/:id: [Post, view, 1]
//	archive:  [Post, archive]
type Decls []Decl

// UnmarshalYAML keeps the mapping's document order.
func (d *Decls) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: routes must be a mapping (line %d)", ErrInvalidRoute, node.Line)
	}
	out := make(Decls, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var target []any
		if err := node.Content[i+1].Decode(&target); err != nil {
			return fmt.Errorf("%w: %q (line %d): %v", ErrInvalidRoute, node.Content[i].Value, node.Content[i].Line, err)
		}
		decl, err := newDecl(node.Content[i].Value, target)
		if err != nil {
			return err
		}
		out = append(out, decl)
	}
	*d = out
	return nil
}

// UnmarshalJSON keeps the object's key order.
func (d *Decls) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: routes must be an object", ErrInvalidRoute)
	}
	var out Decls
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		pattern, _ := tok.(string)
		var target []any
		if err := dec.Decode(&target); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRoute, pattern, err)
		}
		decl, err := newDecl(pattern, target)
		if err != nil {
			return err
		}
		out = append(out, decl)
	}
	*d = out
	return nil
}

func newDecl(pattern string, target []any) (Decl, error) {
	if len(target) < 2 {
		return Decl{}, fmt.Errorf("%w: %q requires at least a handler and an action", ErrInvalidRoute, pattern)
	}
	d := Decl{Pattern: pattern}
	d.Handler, _ = target[0].(string)
	d.Action, _ = target[1].(string)
	if len(target) > 2 {
		switch n := target[2].(type) {
		case int:
			d.Args = n
		case float64:
			d.Args = int(n)
		case string:
			v, err := strconv.Atoi(n)
			if err != nil {
				return Decl{}, fmt.Errorf("%w: %q argument count %q", ErrInvalidRoute, pattern, n)
			}
			d.Args = v
		default:
			return Decl{}, fmt.Errorf("%w: %q argument count %v", ErrInvalidRoute, pattern, n)
		}
	}
	return d, nil
}
