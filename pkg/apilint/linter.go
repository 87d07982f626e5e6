// Package apilint reports the parts of an OpenAPI document that will not
// map cleanly onto tables: shapes that degrade to varchar, columns that are
// dropped and pagination settings the compiler rejects or ignores. Shape
// rules walk gopkg.in/yaml.v3 nodes; pagination and reference rules run as
// vacuum custom functions. Every finding carries a line number.
package apilint

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Severity levels for lint violations.
type Severity string

// Severity constants.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

var sevRank = map[Severity]int{SeverityInfo: 0, SeverityWarning: 1, SeverityError: 2}

// ParseSeverity parses a severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(s))
	if _, ok := sevRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q (want error, warning or info)", s)
	}
	return sev, nil
}

// Violation is a single lint finding.
type Violation struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	RuleID   string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String formats a violation as file:line: rule severity: message.
func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s %s: %s", v.File, v.Line, v.RuleID, v.Severity, v.Message)
}

// Rule is one lint check.
type Rule interface {
	ID() string
	Description() string
	DefaultSeverity() Severity
	Check(ctx *LintContext) []Violation
}

var registry []Rule

// Register adds a rule to the registry. Rules register from init.
func Register(r Rule) { registry = append(registry, r) }

// RegisteredRules returns a copy of the registry.
func RegisteredRules() []Rule {
	return append([]Rule(nil), registry...)
}

// LintContext gives rules read access to the parsed document.
type LintContext struct {
	File string
	Root *yaml.Node

	data       []byte
	vacuumOnce sync.Once
	vacuum     map[string][]Violation
}

// vacuumViolations returns the vacuum findings for an ATL rule id. The
// vacuum rule set runs once per context.
func (ctx *LintContext) vacuumViolations(ruleID string) []Violation {
	ctx.vacuumOnce.Do(func() {
		ctx.vacuum = runVacuum(ctx.File, ctx.data)
	})
	return ctx.vacuum[ruleID]
}

// Violation creates a Violation in the context's file.
func (ctx *LintContext) Violation(line int, rule Rule, format string, args ...any) Violation {
	return Violation{
		File:     ctx.File,
		Line:     line,
		RuleID:   rule.ID(),
		Severity: rule.DefaultSeverity(),
		Message:  fmt.Sprintf(format, args...),
	}
}

// ForEachOperation calls fn for every operation, in document order.
func (ctx *LintContext) ForEachOperation(fn func(path, method string, item, op *yaml.Node)) {
	paths := mapGet(ctx.Root, "paths")
	forEachPair(paths, func(path, item *yaml.Node) {
		forEachPair(item, func(method, op *yaml.Node) {
			if httpMethods[method.Value] {
				fn(path.Value, method.Value, item, op)
			}
		})
	})
}

// ForEachSchema calls fn for every schema object reachable from operations
// and components, with a readable location. Referenced schemas are visited
// where they are defined, not where they are used.
func (ctx *LintContext) ForEachSchema(fn func(where string, schema *yaml.Node)) {
	var walk func(where string, s *yaml.Node)
	walk = func(where string, s *yaml.Node) {
		if s == nil || s.Kind != yaml.MappingNode || mapGet(s, "$ref") != nil {
			return
		}
		fn(where, s)
		forEachPair(mapGet(s, "properties"), func(k, v *yaml.Node) {
			walk(where+"."+k.Value, v)
		})
		walk(where+"[]", mapGet(s, "items"))
		if ap := mapGet(s, "additionalProperties"); ap != nil && ap.Kind == yaml.MappingNode {
			walk(where+"{}", ap)
		}
		for _, key := range []string{"oneOf", "anyOf", "allOf"} {
			if list := mapGet(s, key); list != nil {
				for i, c := range list.Content {
					walk(fmt.Sprintf("%s.%s[%d]", where, key, i), c)
				}
			}
		}
	}

	forEachPair(mapGet(mapGet(ctx.Root, "components"), "schemas"), func(name, s *yaml.Node) {
		walk(name.Value, s)
	})
	ctx.ForEachOperation(func(path, method string, _, op *yaml.Node) {
		where := strings.ToUpper(method) + " " + path
		if params := mapGet(op, "parameters"); params != nil {
			for _, p := range params.Content {
				walk(where+" param "+scalar(p, "name"), mapGet(p, "schema"))
			}
		}
		walk(where+" request", jsonSchema(mapGet(op, "requestBody")))
		forEachPair(mapGet(op, "responses"), func(status, resp *yaml.Node) {
			walk(where+" "+status.Value, jsonSchema(resp))
		})
	})
}

// Linter runs the registered rules against one document.
type Linter struct {
	file string
	data []byte
	root *yaml.Node
}

// New reads and parses the YAML or JSON document at path.
func New(path string) (*Linter, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by the caller
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses data as the document named file.
func Parse(file string, data []byte) (*Linter, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: empty or invalid document", file)
	}
	root := doc.Content[0]
	if mapGet(root, "openapi") == nil && mapGet(root, "swagger") == nil {
		return nil, fmt.Errorf("%s: not an OpenAPI document (no openapi version)", file)
	}
	return &Linter{file: file, data: data, root: root}, nil
}

// Run executes every rule with its default severity.
func (l *Linter) Run() []Violation {
	return l.RunWithConfig(nil)
}

// RunWithConfig executes every rule not turned off in cfg (nil means
// defaults). Findings suppressed by an "apilint:ignore ATLnnn" comment on the
// reported line are dropped. Results are sorted by line, then rule.
func (l *Linter) RunWithConfig(cfg *Config) []Violation {
	ctx := &LintContext{File: l.file, Root: l.root, data: l.data}
	suppressed := suppressions(l.root)
	var vs []Violation
	for _, rule := range registry {
		sev := effectiveSeverity(cfg, rule)
		if sev == "" {
			continue
		}
		for _, v := range rule.Check(ctx) {
			if suppressed[v.Line][rule.ID()] {
				continue
			}
			if sev != rule.DefaultSeverity() {
				v.Severity = sev
			}
			vs = append(vs, v)
		}
	}
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Line != vs[j].Line {
			return vs[i].Line < vs[j].Line
		}
		return vs[i].RuleID < vs[j].RuleID
	})
	return vs
}

// HasErrors reports whether any violation has error severity.
func HasErrors(vs []Violation) bool {
	for _, v := range vs {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Filter returns violations at or above minSev.
func Filter(vs []Violation, minSev Severity) []Violation {
	var out []Violation
	for _, v := range vs {
		if sevRank[v.Severity] >= sevRank[minSev] {
			out = append(out, v)
		}
	}
	return out
}

var suppressRe = regexp.MustCompile(`apilint:ignore((?:\s+ATL\d+)+)`)

// suppressions maps line numbers to the rule ids ignored on that line. A
// comment on a mapping key also covers the line its value starts on.
func suppressions(root *yaml.Node) map[int]map[string]bool {
	out := map[int]map[string]bool{}
	add := func(line int, comment string) {
		for _, m := range suppressRe.FindAllStringSubmatch(comment, -1) {
			if out[line] == nil {
				out[line] = map[string]bool{}
			}
			for _, id := range strings.Fields(m[1]) {
				out[line][id] = true
			}
		}
	}
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		add(n.Line, n.LineComment)
		add(n.Line, n.HeadComment)
		if n.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(n.Content); i += 2 {
				k, v := n.Content[i], n.Content[i+1]
				add(v.Line, k.LineComment)
				add(v.Line, k.HeadComment)
			}
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(root)
	return out
}

// === YAML helpers ===

func mapGet(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func mapGetKey(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i]
		}
	}
	return nil
}

func forEachPair(m *yaml.Node, fn func(k, v *yaml.Node)) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		fn(m.Content[i], m.Content[i+1])
	}
}

// jsonSchema returns the application/json schema of a request body or response.
func jsonSchema(n *yaml.Node) *yaml.Node {
	return mapGet(mapGet(mapGet(n, "content"), "application/json"), "schema")
}

func scalar(m *yaml.Node, key string) string {
	if n := mapGet(m, key); n != nil && n.Kind == yaml.ScalarNode {
		return n.Value
	}
	return ""
}

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}
