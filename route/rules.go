package route

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/eringen/starch/entity"
	"github.com/eringen/starch/internal/fingerprint"
)

// Option keys persisted in the option store.
const (
	OptionRoutesHash   = "routes_hash"
	OptionRewriteRules = "rewrite_rules"
)

// Rule is one compiled rewrite rule. A request path matching Regexp is
// rewritten to Key with capture group i stored under Slots[i-1].
type Rule struct {
	Key    string   `cbor:"key"`
	Regexp string   `cbor:"regexp"`
	Slots  []string `cbor:"slots"`

	re *regexp.Regexp
}

// RuleSet is the ordered result of Build.
type RuleSet struct {
	Rules       []Rule   `cbor:"rules"`
	Tags        []string `cbor:"tags"`
	Fingerprint string   `cbor:"fingerprint"`

	// Flush reports that the persisted rules were stale and have been
	// regenerated.
	Flush bool `cbor:"-"`
}

// Build compiles the table into rewrite rules in match order. The route
// fingerprint is compared with the one stored in opts; when it differs, or
// RequestFlush was called, the new fingerprint and rules are persisted and
// the returned set has Flush set.
func (t *Table) Build(ctx context.Context, opts entity.Options) (*RuleSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.sorted()
	sum, err := fingerprint.Sum(fingerprint.Routes, entries)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting routes: %w", err)
	}

	rs := &RuleSet{Fingerprint: sum}
	for _, e := range entries {
		if e.Args > t.maxArgs {
			t.maxArgs = e.Args
		}
		rule, err := compile(e)
		if err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	for i := 1; i <= t.maxArgs; i++ {
		rs.Tags = append(rs.Tags, Placeholder(i))
	}

	prev, err := opts.Option(ctx, OptionRoutesHash)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", OptionRoutesHash, err)
	}
	if prev == sum && !t.flush {
		return rs, nil
	}

	raw, err := fingerprint.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encoding rewrite rules: %w", err)
	}
	if err := opts.SetOption(ctx, OptionRewriteRules, base64.StdEncoding.EncodeToString(raw)); err != nil {
		return nil, fmt.Errorf("storing %s: %w", OptionRewriteRules, err)
	}
	if err := opts.SetOption(ctx, OptionRoutesHash, sum); err != nil {
		return nil, fmt.Errorf("storing %s: %w", OptionRoutesHash, err)
	}
	t.flush = false
	rs.Flush = true
	return rs, nil
}

// LoadRules reads the rule set last persisted by Build. It returns nil when
// no rules were ever stored.
func LoadRules(ctx context.Context, opts entity.Options) (*RuleSet, error) {
	enc, err := opts.Option(ctx, OptionRewriteRules)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", OptionRewriteRules, err)
	}
	if enc == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", OptionRewriteRules, err)
	}
	var rs RuleSet
	if err := fingerprint.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", OptionRewriteRules, err)
	}
	for i := range rs.Rules {
		if rs.Rules[i].re, err = regexp.Compile(rs.Rules[i].Regexp); err != nil {
			return nil, fmt.Errorf("%w: stored rule %q: %v", ErrInvalidRoute, rs.Rules[i].Key, err)
		}
	}
	return &rs, nil
}

// Match rewrites path with the first matching rule. Paths are compared
// without their leading slash.
func (rs *RuleSet) Match(path string) (key string, values map[string]string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	for _, r := range rs.Rules {
		m := r.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		values = make(map[string]string, len(r.Slots))
		for i, slot := range r.Slots {
			values[slot] = m[i+1]
		}
		return r.Key, values, true
	}
	return "", nil, false
}

// compile turns an entry into a prefix-anchored rule. Named parameters
// become captures in place and the remaining slots are appended, so
// "blog" with one argument and "blog/:id" both compile to ^blog/([^/]+)/?.
func compile(e Entry) (Rule, error) {
	var b strings.Builder
	b.WriteString("^")
	slots := 0
	for i, seg := range strings.Split(e.Pattern, "/") {
		if i > 0 {
			b.WriteString("/")
		}
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			b.WriteString("([^/]+)")
			slots++
			continue
		}
		b.WriteString(regexp.QuoteMeta(seg))
	}
	for ; slots < e.Args; slots++ {
		b.WriteString("/([^/]+)")
	}
	b.WriteString("/?")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidRoute, e.Pattern, err)
	}
	rule := Rule{Key: e.Pattern, Regexp: re.String(), re: re}
	for i := 1; i <= e.Args; i++ {
		rule.Slots = append(rule.Slots, Placeholder(i))
	}
	return rule, nil
}
