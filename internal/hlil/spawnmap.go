package hlil

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/itemlist"
	"github.com/kjorg/oblivion-manifest/internal/log"
	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// PrimarySpawnTableVA and SecondarySpawnTableVA are the two fixed PE spawn
// tables the builder reads: a primary 0x48-byte-record table always
// scanned, and a secondary 8-byte-record table read only when a function
// block mentions its address alongside the phrase "spawn function".
const (
	PrimarySpawnTableVA   uint32 = 0x10046928
	PrimaryRecordSize     uint32 = 0x48
	PrimaryPairsPerRecord        = 9
	TextLabelOffset       uint32 = 0x28
	SecondarySpawnTableVA uint32 = 0x1004A5C0
	SecondaryRecordSize   uint32 = 8
)

var spawnDenylist = map[string]bool{
	"%s/listip.cfg": true,
	"j":             true,
	"player_noise":  true,
}

// ControllerClassname is one entry of the controller_classnames.json
// sidecar: a classname/function pair recovered by an external call-graph
// pass, used in place of the in-process fallback scan when present.
type ControllerClassname struct {
	Classname string `json:"classname"`
	Function  string `json:"function"`
}

// B150Entry is one entry of the sub_1000b150_map.json sidecar, also the
// shape --dump-b150-map emits: the literal logged through sub_1000b150 and
// the classname/function it was cross-referenced to.
type B150Entry struct {
	Classname string   `json:"classname"`
	Function  string   `json:"function"`
	Index     int      `json:"index"`
	Literal   string   `json:"literal"`
	Sources   []string `json:"sources"`
}

var (
	controllerHelpers = []string{"sub_1001ad80", "sub_100166e7"}
	classnamePrefixes = []string{
		"target_", "trigger_", "func_", "misc_", "monster_", "path_", "info_",
		"weapon_", "item_", "ammo_", "key_", "turret_", "point_", "bodyque_",
		"light_", "script_", "model_",
	}
	strcmpCallRe  = regexp.MustCompile(`strcmp\w*\([^,]*,\s*"((?:[^"\\]|\\.)*)"\)`)
	returnSubRe   = regexp.MustCompile(`return\s+(sub_[0-9a-fA-F]+)`)
	gotoRe        = regexp.MustCompile(`goto\s+(label_[0-9a-fA-F]+)`)
	labelRe       = regexp.MustCompile(`^\s*(label_[0-9a-fA-F]+):`)
	inlineTableRe = regexp.MustCompile(`[{,]\s*(&?data_[0-9a-fA-F]+|0x[0-9a-fA-F]+|"(?:[^"\\]|\\.)*")\s*,\s*(sub_[0-9a-fA-F]+)\s*[},]`)
	b150CallRe    = regexp.MustCompile(`sub_1000b150\([^,]*,\s*"((?:[^"\\]|\\.)*)"\)`)
	secondaryMentionRe = regexp.MustCompile(`(?i)0x1004a5c0`)
)

// BuildSpawnMap merges classname->function evidence from every source
// documented for the spawn-map builder, in priority order: IL direct
// pairs, inline tables, strcmp chains, PE spawn tables (which overwrite
// rather than fill gaps), the itemlist, call-graph tags, and the
// sub_1000b150 logged-literal map. The final denylist is applied last.
func BuildSpawnMap(idx *Index, resolver *Resolver, img *peimage.Image, items []itemlist.Entry, controllerSidecarPath, b150SidecarPath string) map[string]string {
	spawnMap := make(map[string]string)

	setIfAbsent := func(source, classname, function, detail string) {
		classname = model.NormalizeClassname(classname)
		if classname == "" || function == "" {
			return
		}
		if _, ok := spawnMap[classname]; ok {
			return
		}
		spawnMap[classname] = function
		log.L.Evidence(source, classname, detail)
	}

	// 1. IL direct pairs.
	log.L.BuilderActivate("il-direct", "string/function-pointer declaration pairs")
	for classname, fn := range idx.DirectPairs {
		setIfAbsent("il-direct", classname, fn, fn)
	}

	// 2. Inline table entries.
	log.L.BuilderActivate("inline-table", "inline {name, func} table initializers")
	for _, symbol := range idx.order {
		fb := idx.Functions[symbol]
		for _, m := range inlineTableRe.FindAllStringSubmatch(fb.Text(), -1) {
			classname, ok := resolver.Resolve(m[1])
			if !ok {
				continue
			}
			setIfAbsent("inline-table", classname, m[2], m[2])
		}
	}

	// 3. strcmp/switch chain dispatch.
	log.L.BuilderActivate("strcmp-chain", "strcmp-chain dispatch inside a switch")
	for _, symbol := range idx.order {
		fb := idx.Functions[symbol]
		text := fb.Text()
		if !strings.Contains(text, "switch") {
			continue
		}
		for classname, fn := range resolveStrcmpChain(fb) {
			setIfAbsent("strcmp-chain", classname, fn, fn)
		}
	}

	// 4. PE spawn tables (overwrite existing mappings unconditionally).
	if img != nil {
		log.L.BuilderActivate("pe-spawn-table", "0x48-byte spawn-table records")
		for classname, fn := range readPrimarySpawnTable(img) {
			classname = model.NormalizeClassname(classname)
			if classname == "" || fn == "" {
				continue
			}
			spawnMap[classname] = fn
			log.L.Evidence("pe-spawn-table", classname, fn)
		}

		for _, symbol := range idx.order {
			fb := idx.Functions[symbol]
			text := fb.Text()
			if secondaryMentionRe.MatchString(text) && strings.Contains(strings.ToLower(text), "spawn function") {
				for classname, fn := range readSecondarySpawnTable(img) {
					classname = model.NormalizeClassname(classname)
					if classname == "" || fn == "" {
						continue
					}
					spawnMap[classname] = fn
					log.L.Evidence("pe-spawn-table", classname, fn)
				}
				break
			}
		}
	}

	// 5. Item table.
	log.L.BuilderActivate("itemlist", "gitem_t[] classnames")
	for _, it := range items {
		setIfAbsent("itemlist", it.Classname, model.SpawnItemFromItemlist, "itemlist")
	}
	for _, e := range resolver.SidecarAll {
		if e.Category != "weapon_descriptor" || !strings.HasPrefix(e.Value, "weapon_") {
			continue
		}
		for _, it := range items {
			if it.Classname == e.Value {
				setIfAbsent("itemlist", e.Value, model.SpawnItemFromItemlist, "interpreted weapon descriptor")
				break
			}
		}
	}

	// 6. Call-graph tagged classnames.
	log.L.BuilderActivate("call-graph", "controller-dispatch helper tag scan")
	if entries, ok := readControllerSidecar(controllerSidecarPath); ok {
		for _, e := range entries {
			setIfAbsent("call-graph", e.Classname, e.Function, e.Function)
		}
	} else {
		for _, symbol := range idx.order {
			fb := idx.Functions[symbol]
			for classname := range scanControllerDispatch(fb) {
				setIfAbsent("call-graph", classname, symbol, symbol)
			}
		}
	}

	// 7. Logged sub_1000b150 literals cross-referenced against PE spawn table.
	log.L.BuilderActivate("b150-literal", "sub_1000b150 logged-literal cross-reference")
	if img != nil {
		textLabels := readPrimaryTextLabels(img)
		for _, symbol := range idx.order {
			fb := idx.Functions[symbol]
			for _, m := range b150CallRe.FindAllStringSubmatch(fb.Text(), -1) {
				literal := model.NormalizeClassname(m[1])
				if fn, ok := textLabels[literal]; ok {
					setIfAbsent("b150-literal", literal, fn, fn)
				}
			}
		}
	}
	if entries, ok := readB150Sidecar(b150SidecarPath); ok {
		for _, e := range entries {
			setIfAbsent("b150-literal", e.Classname, e.Function, e.Literal)
		}
	}

	for classname := range spawnMap {
		if spawnDenylist[classname] ||
			(strings.HasPrefix(classname, "%s/") && (strings.HasSuffix(classname, ".cfg") || strings.HasSuffix(classname, ".log"))) {
			delete(spawnMap, classname)
		}
	}

	return spawnMap
}

// resolveStrcmpChain implements the documented BFS: for each strcmp call
// found within the span up to the next literal, walk forward line by line,
// following goto targets without bound, until a "return sub_XXXX" is
// reached. This intentionally preserves the open question noted for the
// original extractor: only the initial scan is span-bounded; goto-followed
// scans are not.
func resolveStrcmpChain(fb *FunctionBlock) map[string]string {
	out := make(map[string]string)
	lines := fb.Lines

	labelIndex := make(map[string]int)
	for i, l := range lines {
		if m := labelRe.FindStringSubmatch(l.Text); m != nil {
			labelIndex[m[1]] = i
		}
	}

	callIdx := -1
	for i, l := range lines {
		m := strcmpCallRe.FindStringSubmatch(l.Text)
		if m == nil {
			continue
		}
		literal := m[1]
		nextCall := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if strcmpCallRe.MatchString(lines[j].Text) {
				nextCall = j
				break
			}
		}
		if fn, ok := bfsForReturn(lines, i+1, nextCall, labelIndex); ok {
			out[literal] = fn
		}
		callIdx = i
	}
	_ = callIdx
	return out
}

func bfsForReturn(lines []Line, start, boundedEnd int, labelIndex map[string]int) (string, bool) {
	visited := make(map[int]bool)
	queue := []int{start}
	end := boundedEnd

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]

		for ; i < len(lines) && i < end; i++ {
			if visited[i] {
				break
			}
			visited[i] = true

			if m := returnSubRe.FindStringSubmatch(lines[i].Text); m != nil {
				return m[1], true
			}
			if m := gotoRe.FindStringSubmatch(lines[i].Text); m != nil {
				if target, ok := labelIndex[m[1]]; ok && !visited[target] {
					queue = append(queue, target)
					end = len(lines) // goto-followed scans are unbounded
				}
			}
		}
	}
	return "", false
}

func readPrimarySpawnTable(img *peimage.Image) map[string]string {
	out := make(map[string]string)
	emptyStreak := 0
	sawValid := false

	for i := 0; ; i++ {
		recVA := PrimarySpawnTableVA + uint32(i)*PrimaryRecordSize
		raw, ok := img.ReadBytes(recVA, PrimaryRecordSize)
		if !ok {
			break
		}

		rowValid := false
		for p := 0; p < PrimaryPairsPerRecord; p++ {
			off := uint32(p) * 8
			if off+8 > PrimaryRecordSize {
				break
			}
			namePtr := le32(raw[off : off+4])
			funcPtr := le32(raw[off+4 : off+8])
			if namePtr == 0 || funcPtr == 0 {
				continue
			}
			name, ok := img.ReadCString(namePtr)
			if !ok {
				continue
			}
			name = model.NormalizeClassname(name)
			if name == "" || !img.IsInText(funcPtr) {
				continue
			}
			out[name] = symbolFor(funcPtr)
			rowValid = true
		}

		if rowValid {
			sawValid = true
			emptyStreak = 0
		} else {
			emptyStreak++
			if sawValid && emptyStreak >= 64 {
				break
			}
		}
	}

	return out
}

func readSecondarySpawnTable(img *peimage.Image) map[string]string {
	out := make(map[string]string)
	emptyStreak := 0
	sawValid := false

	for i := 0; ; i++ {
		recVA := SecondarySpawnTableVA + uint32(i)*SecondaryRecordSize
		raw, ok := img.ReadBytes(recVA, SecondaryRecordSize)
		if !ok {
			break
		}
		namePtr := le32(raw[0:4])
		funcPtr := le32(raw[4:8])

		valid := false
		if namePtr != 0 && funcPtr != 0 && img.IsInText(funcPtr) {
			if name, ok := img.ReadCString(namePtr); ok {
				name = model.NormalizeClassname(name)
				if name != "" {
					out[name] = symbolFor(funcPtr)
					valid = true
				}
			}
		}

		if valid {
			sawValid = true
			emptyStreak = 0
		} else {
			emptyStreak++
			if sawValid && emptyStreak >= 64 {
				break
			}
		}
	}

	return out
}

// readPrimaryTextLabels reads the text-label pointer field (offset 0x28) of
// each primary spawn-table record, resolved to its string, and maps it to
// the record's first word taken as the function pointer, so the
// b150-literal cross-reference can match logged literals against it.
func readPrimaryTextLabels(img *peimage.Image) map[string]string {
	out := make(map[string]string)
	for i := 0; ; i++ {
		recVA := PrimarySpawnTableVA + uint32(i)*PrimaryRecordSize
		labelPtr, ok := img.ReadU32(recVA + TextLabelOffset)
		if !ok {
			break
		}
		if labelPtr == 0 {
			continue
		}
		label, ok := img.ReadCString(labelPtr)
		if !ok {
			continue
		}
		funcPtr, ok := img.ReadU32(recVA)
		if !ok || funcPtr == 0 {
			continue
		}
		out[model.NormalizeClassname(label)] = symbolFor(funcPtr)
		if i > 4096 {
			break // defensive bound; real tables are far shorter
		}
	}
	return out
}

func scanControllerDispatch(fb *FunctionBlock) map[string]bool {
	out := make(map[string]bool)
	text := fb.Text()
	lowerText := strings.ToLower(text)

	callPos := -1
	for _, helper := range controllerHelpers {
		if idx := strings.Index(lowerText, helper); idx >= 0 && (callPos == -1 || idx < callPos) {
			callPos = idx
		}
	}
	if callPos < 0 {
		return out
	}

	tail := text[callPos:]
	for _, lit := range extractStringLiterals(tail) {
		for _, prefix := range classnamePrefixes {
			if strings.HasPrefix(lit, prefix) {
				out[lit] = true
				break
			}
		}
	}
	return out
}

var stringLiteralRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

func extractStringLiterals(s string) []string {
	var out []string
	for _, m := range stringLiteralRe.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

func readControllerSidecar(path string) ([]ControllerClassname, bool) {
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var entries []ControllerClassname
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func readB150Sidecar(path string) ([]B150Entry, bool) {
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var entries []B150Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

// BuildB150Map reproduces the sub_1000b150 logged-literal map: the literal
// logged at each call site, the classname/function it cross-references
// against the primary PE spawn table's text labels, a call-order index,
// and the IL source file(s) the call was found in. If a sidecar is
// present it is returned as-is (the engine treats it as authoritative);
// otherwise the map is derived in-process.
func BuildB150Map(idx *Index, img *peimage.Image, sidecarPath string) []B150Entry {
	if entries, ok := readB150Sidecar(sidecarPath); ok {
		return entries
	}
	if img == nil {
		return nil
	}

	textLabels := readPrimaryTextLabels(img)
	var out []B150Entry
	index := 0
	for _, symbol := range idx.order {
		fb := idx.Functions[symbol]
		for _, m := range b150CallRe.FindAllStringSubmatch(fb.Text(), -1) {
			literal := model.NormalizeClassname(m[1])
			fn, ok := textLabels[literal]
			if !ok {
				continue
			}
			out = append(out, B150Entry{
				Classname: literal,
				Function:  fn,
				Index:     index,
				Literal:   literal,
				Sources:   fb.Sources(),
			})
			index++
		}
	}
	return out
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func symbolFor(va uint32) string {
	return "sub_" + hex8(va)
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
