// Package mapping holds the per-provider field transforms between native records and
// normalized CMMS records. Mappings are data (embedded YAML), not code.
package mapping

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
	"gopkg.in/yaml.v3"
)

//go:embed providers/*.yaml
var providerFS embed.FS

// Mapping is the full transform set for one provider.
type Mapping struct {
	Provider      string            `yaml:"provider"`
	Paths         map[string]string `yaml:"paths"`
	Inventory     Outbound          `yaml:"inventory"`
	PurchaseOrder Inbound           `yaml:"purchase_order"`
	WorkOrderCost Outbound          `yaml:"work_order_cost"`
}

// Path returns a configured path or def.
func (m *Mapping) Path(name, def string) string {
	if p := m.Paths[name]; p != "" { return p }
	return def
}

// Outbound maps normalized fields onto a native payload.
// Fields keys are dotted remote paths, values are normalized field names.
type Outbound struct {
	Fields map[string]string `yaml:"fields"`
	Static map[string]any    `yaml:"static"`
}

func (o Outbound) Apply(normalized map[string]any) map[string]any {
	out := map[string]any{}
	for _, path := range sortedKeys(o.Static) {
		setPath(out, path, o.Static[path])
	}
	for _, path := range sortedKeys(o.Fields) {
		if v, ok := normalized[o.Fields[path]]; ok {
			setPath(out, path, v)
		}
	}
	return out
}

// Inbound extracts normalized fields from native records with JMESPath expressions.
type Inbound struct {
	// Collection lists candidate expressions for the record list, tried in order.
	// The first one that yields a list wins, even an empty one; none means the body itself.
	Collection Exprs             `yaml:"collection"`
	Fields     map[string]string `yaml:"fields"`

	collection []*jmespath.JMESPath
	fields     map[string]*jmespath.JMESPath
}

// Exprs decodes from a single YAML scalar or a sequence.
type Exprs []string

func (e *Exprs) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*e = Exprs{n.Value}
		return nil
	}
	var list []string
	if err := n.Decode(&list); err != nil { return err }
	*e = list
	return nil
}

func (in *Inbound) compile() error {
	in.collection = nil
	for _, expr := range in.Collection {
		c, err := jmespath.Compile(expr)
		if err != nil { return fmt.Errorf("collection %q: %w", expr, err) }
		in.collection = append(in.collection, c)
	}
	in.fields = make(map[string]*jmespath.JMESPath, len(in.Fields))
	for name, expr := range in.Fields {
		c, err := jmespath.Compile(expr)
		if err != nil { return fmt.Errorf("field %s %q: %w", name, expr, err) }
		in.fields[name] = c
	}
	return nil
}

// Items selects the record list from a decoded response body.
// A candidate that resolves to nothing falls through to the next; one that resolves
// to a non-list value is an error, so a malformed envelope is never read as empty.
func (in *Inbound) Items(body any) ([]any, error) {
	if len(in.collection) == 0 { return asList(body) }
	for _, c := range in.collection {
		v, err := c.Search(body)
		if err != nil { return nil, err }
		if v == nil { continue }
		return asList(v)
	}
	if body == nil { return []any{}, nil }
	return nil, fmt.Errorf("expected a list of records, no collection matched %T", body)
}

func asList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case nil:
		return []any{}, nil
	}
	return nil, fmt.Errorf("expected a list of records, got %T", v)
}

// Apply builds a normalized record. Expressions that match nothing are omitted.
func (in *Inbound) Apply(native any) (map[string]any, error) {
	out := make(map[string]any, len(in.fields))
	for name, c := range in.fields {
		v, err := c.Search(native)
		if err != nil { return nil, fmt.Errorf("extract %s: %w", name, err) }
		if v != nil { out[name] = v }
	}
	return out, nil
}

// Parse decodes and compiles a mapping document.
func Parse(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if m.Provider == "" { return nil, fmt.Errorf("mapping has no provider") }
	if err := m.PurchaseOrder.compile(); err != nil {
		return nil, fmt.Errorf("mapping %s: purchase_order %w", m.Provider, err)
	}
	return &m, nil
}

var (
	loadOnce sync.Once
	loaded   map[string]*Mapping
	loadErr  error
)

// Load returns the embedded mapping for a provider key (generic, sap, netsuite, dynamics, odoo).
func Load(provider string) (*Mapping, error) {
	loadOnce.Do(func() {
		loaded = map[string]*Mapping{}
		entries, err := providerFS.ReadDir("providers")
		if err != nil { loadErr = err; return }
		for _, e := range entries {
			b, err := providerFS.ReadFile("providers/" + e.Name())
			if err != nil { loadErr = err; return }
			m, err := Parse(b)
			if err != nil { loadErr = fmt.Errorf("%s: %w", e.Name(), err); return }
			loaded[m.Provider] = m
		}
	})
	if loadErr != nil { return nil, loadErr }
	m, ok := loaded[strings.ToLower(provider)]
	if !ok { return nil, fmt.Errorf("no field mapping for provider %q", provider) }
	return m, nil
}

// MustLoad panics on a missing embedded mapping; used by provider constructors.
func MustLoad(provider string) *Mapping {
	m, err := Load(provider)
	if err != nil { panic(err) }
	return m
}

func setPath(dst map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := dst
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m { keys = append(keys, k) }
	sort.Strings(keys)
	return keys
}
