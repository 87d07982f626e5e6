package apilint

import (
	"strings"

	"gopkg.in/yaml.v3"
)

func init() {
	Register(compositionRule{})
	Register(freeFormObjectRule{})
	Register(arrayWithoutItemsRule{})
	Register(vacuumBackedRule{
		id:          "ATL004",
		description: "x-pagination resultsPath must be a response body pointer or property path",
		severity:    SeverityError,
	})
	Register(vacuumBackedRule{
		id:          "ATL005",
		description: "x-pagination pageParam must name a parameter of the operation",
		severity:    SeverityWarning,
	})
	Register(noJSONResponseRule{})
	Register(numberFormatRule{})
	Register(vacuumBackedRule{
		id:          "ATL008",
		description: "local $ref values must resolve",
		severity:    SeverityError,
	})
}

// ATL001
type compositionRule struct{}

func (compositionRule) ID() string { return "ATL001" }
func (compositionRule) Description() string {
	return "oneOf/anyOf/allOf schemas are stored as varchar JSON text"
}
func (compositionRule) DefaultSeverity() Severity { return SeverityWarning }
func (r compositionRule) Check(ctx *LintContext) []Violation {
	var vs []Violation
	ctx.ForEachSchema(func(where string, s *yaml.Node) {
		for _, key := range []string{"oneOf", "anyOf", "allOf"} {
			if k := mapGetKey(s, key); k != nil {
				vs = append(vs, ctx.Violation(k.Line, r, "%s uses %s and maps to varchar", where, key))
				return
			}
		}
	})
	return vs
}

// ATL002
type freeFormObjectRule struct{}

func (freeFormObjectRule) ID() string { return "ATL002" }
func (freeFormObjectRule) Description() string {
	return "objects without properties or additionalProperties map to varchar"
}
func (freeFormObjectRule) DefaultSeverity() Severity { return SeverityInfo }
func (r freeFormObjectRule) Check(ctx *LintContext) []Violation {
	var vs []Violation
	ctx.ForEachSchema(func(where string, s *yaml.Node) {
		if scalar(s, "type") != "object" {
			return
		}
		props := mapGet(s, "properties")
		if props != nil && len(props.Content) > 0 {
			return
		}
		if ap := mapGet(s, "additionalProperties"); ap != nil && ap.Kind == yaml.MappingNode {
			return
		}
		vs = append(vs, ctx.Violation(s.Line, r, "%s is a free-form object and maps to varchar", where))
	})
	return vs
}

// ATL003
type arrayWithoutItemsRule struct{}

func (arrayWithoutItemsRule) ID() string { return "ATL003" }
func (arrayWithoutItemsRule) Description() string {
	return "arrays without items cannot be typed and their column is dropped"
}
func (arrayWithoutItemsRule) DefaultSeverity() Severity { return SeverityError }
func (r arrayWithoutItemsRule) Check(ctx *LintContext) []Violation {
	var vs []Violation
	ctx.ForEachSchema(func(where string, s *yaml.Node) {
		if scalar(s, "type") == "array" && mapGet(s, "items") == nil {
			vs = append(vs, ctx.Violation(s.Line, r, "%s is an array without items; the column is dropped", where))
		}
	})
	return vs
}

// ATL004, ATL005 and ATL008 run as vacuum custom functions; see functions.go.

// vacuumBackedRule reports the findings vacuum produced for its id.
type vacuumBackedRule struct {
	id          string
	description string
	severity    Severity
}

func (r vacuumBackedRule) ID() string                { return r.id }
func (r vacuumBackedRule) Description() string       { return r.description }
func (r vacuumBackedRule) DefaultSeverity() Severity { return r.severity }
func (r vacuumBackedRule) Check(ctx *LintContext) []Violation {
	return ctx.vacuumViolations(r.id)
}

// ATL006
type noJSONResponseRule struct{}

func (noJSONResponseRule) ID() string { return "ATL006" }
func (noJSONResponseRule) Description() string {
	return "operations without an application/json response contribute no table"
}
func (noJSONResponseRule) DefaultSeverity() Severity { return SeverityInfo }
func (r noJSONResponseRule) Check(ctx *LintContext) []Violation {
	var vs []Violation
	ctx.ForEachOperation(func(path, method string, _, op *yaml.Node) {
		found := false
		forEachPair(mapGet(op, "responses"), func(_, resp *yaml.Node) {
			if mapGet(mapGet(resp, "content"), "application/json") != nil || mapGet(resp, "$ref") != nil {
				found = true
			}
		})
		if !found {
			vs = append(vs, ctx.Violation(op.Line, r, "%s %s has no application/json response", strings.ToUpper(method), path))
		}
	})
	return vs
}

// ATL007
type numberFormatRule struct{}

func (numberFormatRule) ID() string { return "ATL007" }
func (numberFormatRule) Description() string {
	return "numbers without format float or double map to decimal(18,8)"
}
func (numberFormatRule) DefaultSeverity() Severity { return SeverityInfo }
func (r numberFormatRule) Check(ctx *LintContext) []Violation {
	var vs []Violation
	ctx.ForEachSchema(func(where string, s *yaml.Node) {
		if scalar(s, "type") != "number" {
			return
		}
		if f := scalar(s, "format"); f == "float" || f == "double" {
			return
		}
		vs = append(vs, ctx.Violation(s.Line, r, "%s is a number without float/double format and maps to decimal(18,8)", where))
	})
	return vs
}
