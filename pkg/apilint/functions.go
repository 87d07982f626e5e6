package apilint

import (
	"fmt"
	"strings"

	"github.com/daveshanley/vacuum/model"
	"github.com/daveshanley/vacuum/motor"
	"github.com/daveshanley/vacuum/rulesets"
	"go.yaml.in/yaml/v4"

	"apitables/internal/openapi"
)

// Vacuum rule ids. An ATL rule whose findings carry different severities is
// backed by one vacuum rule per severity.
const (
	vacuumResultsPath        = "apitables-results-path"
	vacuumResultsPathIgnored = "apitables-results-path-ignored"
	vacuumPageParam          = "apitables-page-param"
	vacuumLocalRef           = "apitables-local-ref"
)

// vacuumFinding maps a vacuum rule id onto the ATL rule it reports for.
type vacuumFinding struct {
	ruleID   string
	severity Severity
}

var vacuumFindings = map[string]vacuumFinding{
	vacuumResultsPath:        {ruleID: "ATL004", severity: SeverityError},
	vacuumResultsPathIgnored: {ruleID: "ATL004", severity: SeverityWarning},
	vacuumPageParam:          {ruleID: "ATL005", severity: SeverityWarning},
	vacuumLocalRef:           {ruleID: "ATL008", severity: SeverityError},
}

// customFunctions returns the vacuum rule functions backing the
// pagination and reference rules.
func customFunctions() map[string]model.RuleFunction {
	return map[string]model.RuleFunction{
		"checkResultsPath":        &fnCheckResultsPath{},
		"checkIgnoredResultsPath": &fnCheckResultsPath{ignored: true},
		"checkPageParam":          &fnCheckPageParam{},
		"checkLocalRefs":          &fnCheckLocalRefs{},
	}
}

func newVacuumRule(id, function, description, severity string) *model.Rule {
	return &model.Rule{
		Id:           id,
		Description:  description,
		Given:        "$",
		Resolved:     false,
		Recommended:  true,
		Type:         "validation",
		Severity:     severity,
		RuleCategory: model.RuleCategories[model.CategoryOperations],
		Then:         model.RuleAction{Function: function},
	}
}

// vacuumRuleSet builds the rule set run against every document. Rules run on
// the unresolved document so $ref values stay visible.
func vacuumRuleSet() *rulesets.RuleSet {
	return &rulesets.RuleSet{
		Description: "apitables table-mapping rules",
		Rules: map[string]*model.Rule{
			vacuumResultsPath: newVacuumRule(vacuumResultsPath, "checkResultsPath",
				"x-pagination resultsPath must compile", model.SeverityError),
			vacuumResultsPathIgnored: newVacuumRule(vacuumResultsPathIgnored, "checkIgnoredResultsPath",
				"x-pagination resultsPath path expressions are ignored", model.SeverityWarn),
			vacuumPageParam: newVacuumRule(vacuumPageParam, "checkPageParam",
				"x-pagination pageParam must name a parameter", model.SeverityWarn),
			vacuumLocalRef: newVacuumRule(vacuumLocalRef, "checkLocalRefs",
				"local $ref values must resolve", model.SeverityError),
		},
	}
}

// runVacuum lints data with the vacuum rule set and groups the findings by
// ATL rule id.
func runVacuum(file string, data []byte) map[string][]Violation {
	res := motor.ApplyRulesToRuleSet(&motor.RuleSetExecution{
		RuleSet:         vacuumRuleSet(),
		Spec:            data,
		CustomFunctions: customFunctions(),
		SilenceLogs:     true,
	})
	out := map[string][]Violation{}
	if res == nil {
		return out
	}
	for _, r := range res.Results {
		id := r.RuleId
		if id == "" && r.Rule != nil {
			id = r.Rule.Id
		}
		f, ok := vacuumFindings[id]
		if !ok {
			continue
		}
		line := 0
		if r.StartNode != nil {
			line = r.StartNode.Line
		}
		out[f.ruleID] = append(out[f.ruleID], Violation{
			File:     file,
			Line:     line,
			RuleID:   f.ruleID,
			Severity: f.severity,
			Message:  r.Message,
		})
	}
	return out
}

// === YAML helpers over vacuum's node type ===

func yGet(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func yScalar(m *yaml.Node, key string) string {
	if n := yGet(m, key); n != nil && n.Kind == yaml.ScalarNode {
		return n.Value
	}
	return ""
}

type opVisitor = func(path, method string, item, op *yaml.Node)

func forEachOp(root *yaml.Node, fn opVisitor) {
	paths := yGet(root, "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(paths.Content)-1; i += 2 {
		item := paths.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j < len(item.Content)-1; j += 2 {
			if method := item.Content[j].Value; httpMethods[method] {
				fn(paths.Content[i].Value, method, item, item.Content[j+1])
			}
		}
	}
}

func rootNode(nodes []*yaml.Node) *yaml.Node {
	if len(nodes) == 0 {
		return nil
	}
	n := nodes[0]
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	return n
}

func makeResult(msg, path string, node *yaml.Node, ctx model.RuleFunctionContext) model.RuleFunctionResult {
	var id string
	if ctx.Rule != nil {
		id = ctx.Rule.Id
	}
	return model.RuleFunctionResult{
		Message:   msg,
		Path:      path,
		RuleId:    id,
		StartNode: node,
		EndNode:   node,
		Rule:      ctx.Rule,
	}
}

func paginationSetting(op *yaml.Node, key string) *yaml.Node {
	n := yGet(yGet(op, openapi.ExtensionPagination), key)
	if n == nil || n.Kind != yaml.ScalarNode || n.Value == "" {
		return nil
	}
	return n
}

// ================================================================
// ATL004: x-pagination resultsPath
// ================================================================

type fnCheckResultsPath struct {
	// ignored reports path expressions the compiler skips instead of
	// expressions that fail compilation.
	ignored bool
}

func (f *fnCheckResultsPath) GetSchema() model.RuleFunctionSchema {
	if f.ignored {
		return model.RuleFunctionSchema{Name: "checkIgnoredResultsPath"}
	}
	return model.RuleFunctionSchema{Name: "checkResultsPath"}
}
func (f *fnCheckResultsPath) GetCategory() string { return model.CategoryOperations }

func (f *fnCheckResultsPath) RunRule(nodes []*yaml.Node, ctx model.RuleFunctionContext) []model.RuleFunctionResult {
	root := rootNode(nodes)
	if root == nil {
		return nil
	}
	var results []model.RuleFunctionResult
	forEachOp(root, func(path, method string, _, op *yaml.Node) {
		n := paginationSetting(op, openapi.PaginationResultsPath)
		if n == nil {
			return
		}
		where := fmt.Sprintf("$.paths['%s'].%s.%s", path, method, openapi.ExtensionPagination)
		ptr, err := openapi.ParseResultsPath(n.Value)
		switch {
		case err != nil && !f.ignored:
			results = append(results, makeResult(
				fmt.Sprintf("%s %s: %s; the document will not compile", strings.ToUpper(method), path, err),
				where, n, ctx))
		case err == nil && ptr == nil && f.ignored:
			results = append(results, makeResult(
				fmt.Sprintf("%s %s: resultsPath %q is a path expression and is ignored", strings.ToUpper(method), path, n.Value),
				where, n, ctx))
		}
	})
	return results
}

// ================================================================
// ATL005: x-pagination pageParam names a parameter
// ================================================================

type fnCheckPageParam struct{}

func (f *fnCheckPageParam) GetSchema() model.RuleFunctionSchema {
	return model.RuleFunctionSchema{Name: "checkPageParam"}
}
func (f *fnCheckPageParam) GetCategory() string { return model.CategoryOperations }

func (f *fnCheckPageParam) RunRule(nodes []*yaml.Node, ctx model.RuleFunctionContext) []model.RuleFunctionResult {
	root := rootNode(nodes)
	if root == nil {
		return nil
	}
	var results []model.RuleFunctionResult
	forEachOp(root, func(path, method string, item, op *yaml.Node) {
		n := paginationSetting(op, openapi.PaginationPageParam)
		if n == nil {
			return
		}
		for _, params := range []*yaml.Node{yGet(item, "parameters"), yGet(op, "parameters")} {
			if params == nil {
				continue
			}
			for _, p := range params.Content {
				if yScalar(p, "name") == n.Value {
					return
				}
			}
		}
		results = append(results, makeResult(
			fmt.Sprintf("%s %s: pageParam %q is not a parameter of the operation", strings.ToUpper(method), path, n.Value),
			fmt.Sprintf("$.paths['%s'].%s.%s", path, method, openapi.ExtensionPagination),
			n, ctx))
	})
	return results
}

// ================================================================
// ATL008: local $ref values resolve
// ================================================================

type fnCheckLocalRefs struct{}

func (f *fnCheckLocalRefs) GetSchema() model.RuleFunctionSchema {
	return model.RuleFunctionSchema{Name: "checkLocalRefs"}
}
func (f *fnCheckLocalRefs) GetCategory() string { return model.CategorySchemas }

func (f *fnCheckLocalRefs) RunRule(nodes []*yaml.Node, ctx model.RuleFunctionContext) []model.RuleFunctionResult {
	root := rootNode(nodes)
	if root == nil {
		return nil
	}
	var results []model.RuleFunctionResult
	var walk func(n *yaml.Node)
	walk = func(n *yaml.Node) {
		if ref := yGet(n, "$ref"); ref != nil && ref.Kind == yaml.ScalarNode && !localRefResolves(root, ref.Value) {
			results = append(results, makeResult(fmt.Sprintf("unresolved $ref %q", ref.Value), ref.Value, ref, ctx))
		}
		for _, c := range n.Content {
			walk(c)
		}
	}
	walk(root)
	return results
}

// localRefResolves reports whether a local reference points at a node.
// External references are not checked.
func localRefResolves(root *yaml.Node, ref string) bool {
	if !strings.HasPrefix(ref, "#/") {
		return true
	}
	node := root
	for _, p := range strings.Split(strings.TrimPrefix(ref, "#/"), "/") {
		p = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
		if node = yGet(node, p); node == nil {
			return false
		}
	}
	return true
}
