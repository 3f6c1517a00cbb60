// Package repoparser implements the "external collaborator" named in the
// extraction engine's scope: a companion parser over a candidate C
// re-implementation of the game's entity-spawn logic, producing a second,
// independently derived manifest for the comparator to diff against the
// HLIL-derived one. It never touches the PE image or IL listing.
package repoparser

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/log"
	"github.com/kjorg/oblivion-manifest/internal/model"
)

var (
	spawnArrayEntryRe = regexp.MustCompile(`\{\s*"([^"]+)"\s*,\s*(SP_[^}]+)\}`)
	itemlistAnchorRe  = regexp.MustCompile(`gitem_t\s+itemlist\s*\[\]\s*=`)
	itemlistEntryRe   = regexp.MustCompile(`\{\s*"([^"]+)"\s*,`)
	funcDeclRe        = regexp.MustCompile(`^\w[\w\s*]*\b(SP_[A-Za-z0-9_]+)\s*\(`)
	memberAssignRe    = regexp.MustCompile(`\b[a-zA-Z_]\w*->([a-zA-Z0-9_.]+)\s*=\s*([^;]+)`)
	spawnflagCheckRe  = regexp.MustCompile(`spawnflags\s*&\s*([^&|)]+)`)
	callRe            = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)
)

var callBlacklist = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true,
	"sizeof": true, "do": true, "case": true, "goto": true, "break": true, "continue": true,
}

var helperEligiblePrefixes = []string{"func_", "target_", "trigger_", "misc_", "info_", "path_", "point_"}

var doorHelpers = []string{"Think_SpawnDoorTrigger", "Think_CalcMoveSpeed", "Door_ClearStartOpenFlag"}
var doorClassnames = map[string]bool{"func_door": true, "func_door_rotating": true, "func_door_secret": true}

// denylist mirrors the HLIL spawn-map builder's accidental-literal filter:
// a handful of exact strings plus any %s/*.cfg or %s/*.log pattern.
var repoDenylist = map[string]bool{"%s/listip.cfg": true, "j": true, "player_noise": true}

func isDenylisted(classname string) bool {
	if repoDenylist[classname] {
		return true
	}
	if strings.HasPrefix(classname, "%s/") && (strings.HasSuffix(classname, ".cfg") || strings.HasSuffix(classname, ".log")) {
		return true
	}
	return false
}

// RepoParser reads a candidate C re-implementation rooted at root/src/game,
// recovering the classname->spawn-function map and every spawn function's
// body text for later spawnflags/defaults extraction.
type RepoParser struct {
	gameDir     string
	macros      *MacroResolver
	sourceFiles []string
	functions   map[string][]string
	funcCache   map[string][]string
}

// New builds a RepoParser rooted at root (expects root/src/game to exist),
// applying macro overrides (from repeated `-D NAME[=VALUE]` flags) on top
// of any `#define` found in source.
func New(root string, overrides map[string]string) *RepoParser {
	gameDir := filepath.Join(root, "src", "game")
	sourceFiles := sourceFilesUnder(gameDir)
	p := &RepoParser{
		gameDir:     gameDir,
		sourceFiles: sourceFiles,
		macros:      NewMacroResolver(sourceFiles, overrides),
		funcCache:   make(map[string][]string),
	}
	p.functions = p.parseFunctions()
	return p
}

// BuildManifest parses the spawn map and, for every classname/function
// pair, extracts defaults and spawnflags, applying the door-helper union
// and helper-callee spawnflag merge where the classname is eligible.
func (p *RepoParser) BuildManifest() map[string]model.RepoEntry {
	spawnMap := p.parseSpawnMap()
	manifest := make(map[string]model.RepoEntry, len(spawnMap))

	var classnames []string
	for c := range spawnMap {
		classnames = append(classnames, c)
	}
	sort.Strings(classnames)

	for _, classname := range classnames {
		function := spawnMap[classname]
		entry := model.RepoEntry{Classname: classname, Function: function, Defaults: map[string]float64{}}

		lines := p.functions[function]
		if lines != nil {
			entry.Defaults = p.extractDefaults(lines)
			if helperEligible(classname) {
				entry.Spawnflags = p.extractSpawnflagsWithHelpers(function)
			} else {
				entry.Spawnflags = p.extractSpawnflags(lines)
			}
			if doorClassnames[classname] {
				var doorUnion model.SpawnEvidence
				for _, helper := range doorHelpers {
					helperLines := p.getFunctionLines(helper)
					doorUnion = model.MergeEvidence(doorUnion, p.extractSpawnflags(helperLines))
				}
				entry.Spawnflags = model.MergeEvidence(entry.Spawnflags, doorUnion)
			}
		}
		manifest[classname] = entry
		log.L.SourceAttached(classname, "repo_block", function)
	}
	return manifest
}

func helperEligible(classname string) bool {
	if classname == "light" {
		return true
	}
	for _, pfx := range helperEligiblePrefixes {
		if strings.HasPrefix(classname, pfx) {
			return true
		}
	}
	return false
}

// parseSpawnMap reads g_spawn.c's classname->SP_ function array, then
// layers in every itemlist classname (defaulted to the itemlist sentinel
// function unless already claimed by g_spawn.c), then applies the three
// macro-gated removals the original re-implementation performs.
func (p *RepoParser) parseSpawnMap() map[string]string {
	spawnMap := make(map[string]string)

	text, err := readFile(filepath.Join(p.gameDir, "g_spawn.c"))
	if err == nil {
		for _, m := range spawnArrayEntryRe.FindAllStringSubmatch(text, -1) {
			classname := m[1]
			if isDenylisted(classname) {
				continue
			}
			spawnMap[classname] = strings.TrimSpace(m[2])
		}
	}

	itemClassnames := p.parseItemlistClassnames()
	sorted := make([]string, 0, len(itemClassnames))
	for c := range itemClassnames {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)
	for _, classname := range sorted {
		if _, ok := spawnMap[classname]; !ok {
			spawnMap[classname] = model.SpawnItemFromItemlist
		}
	}

	if v, ok := p.macros.Evaluate("OBLIVION_ENABLE_ROTATE_TRAIN"); ok && v == 0 {
		delete(spawnMap, "func_rotate_train")
	}
	if v, ok := p.macros.Evaluate("OBLIVION_ENABLE_MONSTER_SENTINEL"); ok && v == 0 {
		delete(spawnMap, "monster_sentinel")
	}
	return spawnMap
}

// parseItemlistClassnames extracts classnames from g_items.c's itemlist[]
// array by brace-depth matching from the array anchor, per the HLIL
// itemlist reader's analogous termination quirk in the binary.
func (p *RepoParser) parseItemlistClassnames() map[string]bool {
	out := make(map[string]bool)
	text, err := readFile(filepath.Join(p.gameDir, "g_items.c"))
	if err != nil {
		return out
	}
	loc := itemlistAnchorRe.FindStringIndex(text)
	if loc == nil {
		return out
	}
	braceStart := strings.Index(text[loc[1]:], "{")
	if braceStart == -1 {
		return out
	}
	braceStart += loc[1]

	depth := 0
	braceEnd := -1
	for i := braceStart; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				braceEnd = i
			}
		}
		if braceEnd != -1 {
			break
		}
	}
	if braceEnd == -1 {
		return out
	}
	block := text[braceStart:braceEnd]
	for _, m := range itemlistEntryRe.FindAllStringSubmatch(block, -1) {
		out[m[1]] = true
	}

	if v, ok := p.macros.Evaluate("OBLIVION_ENABLE_WEAPON_LASERCANNON"); ok && v == 0 {
		delete(out, "weapon_lasercannon")
	}
	return out
}

// parseFunctions scans every source file for top-level `SP_*` function
// definitions, tracking brace depth to capture each body verbatim.
func (p *RepoParser) parseFunctions() map[string][]string {
	functions := make(map[string][]string)

	for _, path := range p.sourceFiles {
		lines, err := readLines(path)
		if err != nil {
			continue
		}
		var current string
		var body []string
		var depth int
		inFunc := false

		for _, line := range lines {
			if !inFunc {
				m := funcDeclRe.FindStringSubmatch(line)
				if m == nil || strings.HasSuffix(strings.TrimSpace(line), ";") {
					continue
				}
				current = m[1]
				depth = strings.Count(line, "{")
				body = []string{line}
				inFunc = true
				continue
			}
			body = append(body, line)
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if depth <= 0 && strings.HasSuffix(strings.TrimSpace(line), "}") {
				functions[current] = body
				inFunc = false
			}
		}
	}
	return functions
}

// getFunctionLines resolves an arbitrary (non SP_-prefixed) helper function
// body by name, scanning source files lazily and caching the result.
func (p *RepoParser) getFunctionLines(name string) []string {
	if lines, ok := p.funcCache[name]; ok {
		return lines
	}
	declRe := regexp.MustCompile(`^\w[\w\s*]*\b` + regexp.QuoteMeta(name) + `\s*\(`)

	for _, path := range p.sourceFiles {
		lines, err := readLines(path)
		if err != nil {
			continue
		}
		var body []string
		var depth int
		inFunc := false
		for _, line := range lines {
			if !inFunc {
				if !declRe.MatchString(line) || strings.HasSuffix(strings.TrimSpace(line), ";") {
					continue
				}
				depth = strings.Count(line, "{")
				body = []string{line}
				inFunc = true
				continue
			}
			body = append(body, line)
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if depth <= 0 && strings.HasSuffix(strings.TrimSpace(line), "}") {
				p.funcCache[name] = body
				return body
			}
		}
	}
	p.funcCache[name] = nil
	return nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}

// resolveToken parses a spawnflags/default-expression token: a hex or
// decimal literal, falling back to macro evaluation for bare identifiers.
func (p *RepoParser) resolveToken(token string) (int64, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, false
	}
	lower := strings.ToLower(token)
	if strings.HasPrefix(lower, "0x") {
		v, err := strconv.ParseInt(token[2:], 16, 64)
		return v, err == nil
	}
	if isAllDigits(token) {
		v, err := strconv.ParseInt(token, 10, 64)
		return v, err == nil
	}
	return p.macros.Evaluate(token)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
