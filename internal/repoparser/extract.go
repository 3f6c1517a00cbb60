package repoparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/model"
)

// extractSpawnflags scans a function body for the four spawnflags idioms
// the HLIL side also recognizes: `spawnflags |= X` (set), `spawnflags &= X`
// (clear, inverted and filtered per the 0 < cleared < all-ones invariant),
// `spawnflags = X` (assignment), and `spawnflags & X` (check).
func (p *RepoParser) extractSpawnflags(lines []string) model.SpawnEvidence {
	var ev model.SpawnEvidence

	for _, line := range lines {
		if !strings.Contains(line, "spawnflags") {
			continue
		}
		if idx := strings.Index(line, "|="); idx != -1 {
			if v, ok := p.resolveToken(firstClause(line[idx+2:])); ok {
				ev.AddSet(uint32(v))
			}
		}
		if idx := strings.Index(line, "&="); idx != -1 {
			if v, ok := p.resolveToken(firstClause(line[idx+2:])); ok {
				mask := uint32(v)
				cleared := ^mask
				if cleared != 0 && cleared != 0xFFFFFFFF {
					ev.AddClear(cleared)
				}
			}
		}
		if idx := strings.Index(line, "spawnflags ="); idx != -1 {
			if v, ok := p.resolveToken(firstClause(line[idx+len("spawnflags ="):])); ok {
				ev.AddAssignment(uint32(v))
			}
		}
		for _, m := range spawnflagCheckRe.FindAllStringSubmatch(line, -1) {
			if v, ok := p.resolveToken(m[1]); ok {
				ev.AddCheck(uint32(v))
			}
		}
	}
	return ev
}

func firstClause(s string) string {
	if i := strings.Index(s, ";"); i != -1 {
		s = s[:i]
	}
	return s
}

// extractSpawnflagsWithHelpers unions extractSpawnflags over the spawn
// function and its direct callees, up to depth 2, descending only into
// callees whose own body mentions "spawnflags" at all (a cheap pre-filter
// matching the original re-implementation's walk).
func (p *RepoParser) extractSpawnflagsWithHelpers(funcName string) model.SpawnEvidence {
	var merged model.SpawnEvidence
	visited := make(map[string]bool)

	var walk func(name string, depth int)
	walk = func(name string, depth int) {
		if visited[name] {
			return
		}
		visited[name] = true

		body := p.functions[name]
		if body == nil {
			body = p.getFunctionLines(name)
		}
		if body == nil {
			return
		}
		merged = model.MergeEvidence(merged, p.extractSpawnflags(body))
		if depth >= 2 {
			return
		}
		for _, callee := range p.directHelperCalls(body) {
			if visited[callee] {
				continue
			}
			calleeBody := p.functions[callee]
			if calleeBody == nil {
				calleeBody = p.getFunctionLines(callee)
			}
			if calleeBody == nil || !containsSpawnflags(calleeBody) {
				continue
			}
			walk(callee, depth+1)
		}
	}
	walk(funcName, 0)
	return merged
}

func containsSpawnflags(lines []string) bool {
	for _, line := range lines {
		if strings.Contains(line, "spawnflags") {
			return true
		}
	}
	return false
}

// directHelperCalls collects callee names invoked directly (not as a
// member of `.` or `->`) from non-declaration, non-preprocessor lines,
// excluding C keywords that parse like calls.
func (p *RepoParser) directHelperCalls(lines []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if funcDeclRe.MatchString(line) {
			continue
		}
		for _, m := range callRe.FindAllStringSubmatchIndex(line, -1) {
			name := line[m[2]:m[3]]
			if callBlacklist[name] || seen[name] {
				continue
			}
			if isMemberCall(line, m[0]) {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func isMemberCall(line string, start int) bool {
	i := start - 1
	for i >= 0 && (line[i] == ' ' || line[i] == '\t') {
		i--
	}
	if i >= 0 && line[i] == '.' {
		return true
	}
	if i >= 1 && line[i-1] == '-' && line[i] == '>' {
		return true
	}
	return false
}

// extractDefaults scans `ent->field = expr;` assignments, evaluating expr
// through the same restricted numeric grammar MacroResolver uses, with C
// literal normalization (float suffix stripping, leading cast removal).
func (p *RepoParser) extractDefaults(lines []string) map[string]float64 {
	defaults := make(map[string]float64)
	for _, line := range lines {
		for _, m := range memberAssignRe.FindAllStringSubmatch(line, -1) {
			field, expr := m[1], strings.TrimSpace(m[2])
			if v, ok := p.evaluateDefaultExpr(expr); ok {
				defaults[field] = v
			}
		}
	}
	return defaults
}

func (p *RepoParser) evaluateDefaultExpr(expr string) (float64, bool) {
	expr = normalizeNumericExpr(expr)
	if expr == "" {
		return 0, false
	}
	if v, ok := p.evalNumericExpr(expr); ok {
		return v, true
	}
	return p.parseLiteralOrMacro(expr)
}

var castPrefixRe = regexp.MustCompile(`^\(\s*(?:const\s+)?(?:struct\s+)?[a-zA-Z_][\w\s*]*\)`)
var floatSuffixRe = regexp.MustCompile(`(\d+\.\d+)[fF]\b`)
var intFloatSuffixRe = regexp.MustCompile(`(^|[^0-9a-fA-FxX])(\d+)[fF]\b`)

func normalizeNumericExpr(expr string) string {
	expr = strings.TrimSpace(strings.TrimRight(expr, ";"))
	for {
		loc := castPrefixRe.FindStringIndex(expr)
		if loc == nil {
			break
		}
		expr = strings.TrimSpace(expr[loc[1]:])
	}
	expr = floatSuffixRe.ReplaceAllString(expr, "$1")
	expr = intFloatSuffixRe.ReplaceAllString(expr, "$1$2")
	return expr
}

// evalNumericExpr evaluates a normalized C numeric expression using the
// same tokenizer/parser MacroResolver uses for #define bodies, treating
// bare names as macro references and returning the result as a float.
func (p *RepoParser) evalNumericExpr(expr string) (float64, bool) {
	tokens := tokenizeMacroExpr(expr)
	if len(tokens) == 0 {
		return 0, false
	}
	parser := &macroExprParser{resolver: p.macros, tokens: tokens}
	v, ok := parser.parseExpr()
	if !ok || parser.pos != len(tokens) {
		return 0, false
	}
	return float64(v), true
}

func (p *RepoParser) parseLiteralOrMacro(expr string) (float64, bool) {
	token := strings.TrimSpace(expr)
	if token == "" {
		return 0, false
	}
	if strings.HasPrefix(strings.ToLower(token), "0x") {
		v, err := strconv.ParseInt(token[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return float64(v), true
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, true
	}
	if v, ok := p.macros.Evaluate(token); ok {
		return float64(v), true
	}
	return 0, false
}
