package hlil

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// InterpretedString is one entry of the sidecar interpreted/strings.json
// file: a resolved literal value plus the category the interpreter tagged
// it with (e.g. "weapon_descriptor").
type InterpretedString struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Value    string `json:"value"`
	Category string `json:"category"`
}

// Resolver resolves IL tokens (data_XXXX labels, 0xXXXX literals, raw VAs)
// to the string literal declared at that data slot, consulting the IL
// index first and falling back to the sidecar strings.json.
type Resolver struct {
	idx        *Index
	img        *peimage.Image
	sidecar    map[string]InterpretedString // normalized address -> entry
	SidecarAll []InterpretedString
}

// NewResolver builds a resolver over idx and an optional PE image, loading
// sidecarPath if it exists and parses as valid JSON; any other outcome is
// treated as "sidecar absent" per the error-handling policy.
func NewResolver(idx *Index, img *peimage.Image, sidecarPath string) *Resolver {
	r := &Resolver{idx: idx, img: img, sidecar: make(map[string]InterpretedString)}

	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return r
	}
	var entries []InterpretedString
	if err := json.Unmarshal(data, &entries); err != nil {
		return r
	}
	r.SidecarAll = entries
	for _, e := range entries {
		r.sidecar[normalizeAddr(e.Address)] = e
	}
	return r
}

// Resolve attempts to resolve token to its literal content.
func (r *Resolver) Resolve(token string) (string, bool) {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "&")
	lower := strings.ToLower(token)

	if strings.HasPrefix(token, `"`) && strings.HasSuffix(token, `"`) && len(token) >= 2 {
		return token[1 : len(token)-1], true
	}

	if strings.HasPrefix(lower, "data_") {
		if s, ok := r.idx.Strings[lower]; ok {
			return s, true
		}
	}

	if va, ok := parseHexOrData(lower); ok {
		if s, ok := r.idx.Strings[lower]; ok {
			return s, true
		}
		if e, ok := r.sidecar[normalizeAddr(lower)]; ok {
			return e.Value, true
		}
		if r.img != nil {
			if s, ok := r.img.ReadCString(va); ok {
				return s, true
			}
		}
	}

	return "", false
}

func parseHexOrData(token string) (uint32, bool) {
	token = strings.TrimPrefix(token, "data_")
	token = strings.TrimPrefix(token, "0x")
	v, err := strconv.ParseUint(token, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func normalizeAddr(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "data_")
	s = strings.TrimPrefix(s, "0x")
	return s
}
