package openapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PropertyOrder records the declared key order of every mapping in the raw
// document, keyed by JSON pointer. It lets compiled row types and columns
// follow the order properties were written in rather than map order.
type PropertyOrder struct {
	keys map[string][]string
}

// NewPropertyOrder indexes a YAML or JSON document. An empty input yields
// an empty index, which makes callers fall back to alphabetical order.
func NewPropertyOrder(raw []byte) (*PropertyOrder, error) {
	po := &PropertyOrder{keys: map[string][]string{}}
	if len(raw) == 0 {
		return po, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("index property order: %w", err)
	}
	po.walk(&doc, "")
	return po, nil
}

func (po *PropertyOrder) walk(n *yaml.Node, ptr string) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			po.walk(c, ptr)
		}
	case yaml.MappingNode:
		keys := make([]string, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			keys = append(keys, k)
			po.walk(n.Content[i+1], ptr+"/"+escapePointerToken(k))
		}
		po.keys[ptr] = keys
	case yaml.SequenceNode:
		for i, c := range n.Content {
			po.walk(c, ptr+"/"+strconv.Itoa(i))
		}
	}
}

// Keys returns the declared key order of the mapping at ptr.
func (po *PropertyOrder) Keys(ptr string) []string {
	if po == nil {
		return nil
	}
	return po.keys[ptr]
}

// Ordered returns names ordered by the mapping at ptr. Names the index does
// not know are appended alphabetically, so the result is always deterministic.
func (po *PropertyOrder) Ordered(ptr string, names []string) []string {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := make([]string, 0, len(names))
	if ptr != "" {
		for _, k := range po.Keys(ptr) {
			if want[k] {
				out = append(out, k)
				delete(want, k)
			}
		}
	}
	rest := make([]string, 0, len(want))
	for k := range want {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func escapePointerToken(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

func unescapePointerToken(s string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
}

// pointerOfRef turns a local "$ref" into a JSON pointer. External refs yield "".
func pointerOfRef(ref string) string {
	if !strings.HasPrefix(ref, "#/") {
		return ""
	}
	return strings.TrimPrefix(ref, "#")
}

// childPointer appends escaped tokens to ptr; an unknown parent stays unknown.
func childPointer(ptr string, tokens ...string) string {
	if ptr == "" {
		return ""
	}
	for _, t := range tokens {
		ptr += "/" + escapePointerToken(t)
	}
	return ptr
}
