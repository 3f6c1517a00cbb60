package hlil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/log"
	"github.com/kjorg/oblivion-manifest/internal/model"
)

var (
	funcDeclRe = regexp.MustCompile(`^\s*[0-9a-fA-F]{7,9}\s+(?:void|char|short|int|long|float|double|qboolean|size_t|u?int\d+_t)\b[^(]*\b(sub_[0-9a-fA-F]+)\(`)
	strPtrRe   = regexp.MustCompile(`char\s*\(\s*\*\s*(data_[0-9a-fA-F]+)\s*\)\s*\[[^\]]*\]\s*=\s*(data_[0-9a-fA-F]+)\s*\{"((?:[^"\\]|\\.)*)"\}`)
	fieldDecRe = regexp.MustCompile(`^\s*([0-9a-fA-F]{2}\s+){11}[0-9a-fA-F]{2}\s*$`)
	funcPtrRe  = regexp.MustCompile(`void\*\s*(data_[0-9a-fA-F]+)\s*=\s*(sub_[0-9a-fA-F]+)`)
)

// Index is the result of parsing the IL listing: merged function blocks,
// the field-descriptor table, string declarations, and the direct
// classname->function pairs recovered from adjacent string/function
// pointer declarations.
type Index struct {
	Functions   map[string]*FunctionBlock
	order       []string
	Descriptors map[string]model.FieldDescriptor // keyed by data label, e.g. "data_1234"
	Strings     map[string]string                // data label -> decoded literal
	DirectPairs map[string]string                // classname -> function (4.B direct evidence)
}

// FunctionOrder returns function symbols in first-seen order, the order the
// manifest's deterministic passes iterate functions in before the final
// lexicographic classname sort is applied.
func (idx *Index) FunctionOrder() []string {
	return idx.order
}

// Build parses primaryPath plus every *.txt file under a sibling split/
// directory, merging function blocks by symbol name (first-seen order,
// deduplicated lines) and collecting descriptors, string declarations, and
// direct classname/function pairs.
func Build(primaryPath string) (*Index, error) {
	idx := &Index{
		Functions:   make(map[string]*FunctionBlock),
		Descriptors: make(map[string]model.FieldDescriptor),
		Strings:     make(map[string]string),
		DirectPairs: make(map[string]string),
	}

	primary, err := readLines(primaryPath, false)
	if err != nil {
		return nil, fmt.Errorf("read HLIL listing: %w", err)
	}

	var allLines []Line
	allLines = append(allLines, primary...)

	splitDir := filepath.Join(filepath.Dir(primaryPath), "split")
	splitFiles, _ := findTxtFiles(splitDir)
	for _, f := range splitFiles {
		lines, err := readLines(f, true)
		if err != nil {
			log.L.Evidence("hlil", "", fmt.Sprintf("skipped unreadable split file %s: %v", f, err))
			continue
		}
		allLines = append(allLines, lines...)
	}

	idx.indexFunctionBlocks(allLines)
	idx.indexDeclarations(allLines)

	return idx, nil
}

func readLines(path string, isSplit bool) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		out = append(out, Line{Text: sc.Text(), File: path, IsSplit: isSplit})
	}
	return out, sc.Err()
}

func findTxtFiles(dir string) ([]string, error) {
	var out []string
	err := filepathWalk(dir, func(path string, isDir bool) {
		if !isDir && strings.HasSuffix(path, ".txt") {
			out = append(out, path)
		}
	})
	return out, err
}

// filepathWalk is a thin wrapper so findTxtFiles degrades to "no files"
// rather than an error when the split/ directory does not exist.
func filepathWalk(root string, visit func(path string, isDir bool)) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		full := filepath.Join(root, e.Name())
		if e.IsDir() {
			_ = filepathWalk(full, visit)
			continue
		}
		visit(full, false)
	}
	return nil
}

// indexFunctionBlocks splits the merged line stream into per-symbol blocks.
// A new function declaration line closes the previous block and opens the
// next; blocks of the same symbol seen again (from a split file) are
// appended, skipping lines already present verbatim.
func (idx *Index) indexFunctionBlocks(lines []Line) {
	var current *FunctionBlock
	seen := make(map[string]map[string]bool) // symbol -> set of seen line texts

	for _, l := range lines {
		if m := funcDeclRe.FindStringSubmatch(l.Text); m != nil {
			symbol := m[1]
			fb, ok := idx.Functions[symbol]
			if !ok {
				fb = &FunctionBlock{Symbol: symbol}
				idx.Functions[symbol] = fb
				idx.order = append(idx.order, symbol)
				seen[symbol] = make(map[string]bool)
			}
			current = fb
		}
		if current == nil {
			continue
		}
		dedup := seen[current.Symbol]
		if dedup[l.Text] {
			continue
		}
		dedup[l.Text] = true
		current.Lines = append(current.Lines, l)
	}
}

// indexDeclarations scans the merged line stream for string-pointer
// declarations, their 12-byte field-descriptor follow-up line, and
// function-pointer declarations that immediately follow a string-pointer
// declaration (direct classname->function evidence).
func (idx *Index) indexDeclarations(lines []Line) {
	var pendingStrLabel string
	var pendingLiteral string
	havePending := false

	for i, l := range lines {
		text := l.Text

		if m := strPtrRe.FindStringSubmatch(text); m != nil {
			label, literal := m[2], m[3]
			idx.Strings[strings.ToLower(label)] = literal
			pendingStrLabel = m[1]
			pendingLiteral = literal
			havePending = true
			continue
		}

		if fieldDecRe.MatchString(text) && pendingStrLabel != "" {
			if desc, ok := parseFieldDescriptor(text); ok {
				desc.Name = pendingLiteral
				idx.Descriptors[strings.ToLower(pendingStrLabel)] = desc
			}
			continue
		}

		if m := funcPtrRe.FindStringSubmatch(text); m != nil && havePending {
			classname := model.NormalizeClassname(pendingLiteral)
			if classname != "" {
				idx.DirectPairs[classname] = m[2]
			}
			havePending = false
			_ = i
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue // blank lines don't break the "immediately following" adjacency
		}
		havePending = false
	}
}

func parseFieldDescriptor(text string) (model.FieldDescriptor, bool) {
	fields := strings.Fields(text)
	if len(fields) != 12 {
		return model.FieldDescriptor{}, false
	}
	raw := make([]byte, 12)
	for i, tok := range fields {
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return model.FieldDescriptor{}, false
		}
		raw[i] = byte(v)
	}
	le32 := func(b []byte) uint32 {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	return model.FieldDescriptor{
		Offset: le32(raw[0:4]),
		TypeID: le32(raw[4:8]),
		Flags:  le32(raw[8:12]),
	}, true
}
