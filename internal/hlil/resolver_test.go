package hlil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

func newTestIndex() *Index {
	return &Index{
		Functions:   make(map[string]*FunctionBlock),
		Descriptors: make(map[string]model.FieldDescriptor),
		Strings:     make(map[string]string),
		DirectPairs: make(map[string]string),
	}
}

func TestResolveQuotedLiteral(t *testing.T) {
	r := NewResolver(newTestIndex(), nil, "")
	got, ok := r.Resolve(`"monster_jorg"`)
	if !ok || got != "monster_jorg" {
		t.Fatalf("Resolve(quoted) = (%q, %v), want (monster_jorg, true)", got, ok)
	}
}

func TestResolveDataLabelFromIndex(t *testing.T) {
	idx := newTestIndex()
	idx.Strings["data_2001"] = "monster_jorg"
	r := NewResolver(idx, nil, "")

	got, ok := r.Resolve("data_2001")
	if !ok || got != "monster_jorg" {
		t.Fatalf("Resolve(data_2001) = (%q, %v), want (monster_jorg, true)", got, ok)
	}

	// Leading "&" (address-of) is stripped before lookup.
	got, ok = r.Resolve("&data_2001")
	if !ok || got != "monster_jorg" {
		t.Fatalf("Resolve(&data_2001) = (%q, %v), want (monster_jorg, true)", got, ok)
	}
}

func TestResolveHexFallsBackToSidecar(t *testing.T) {
	dir := t.TempDir()
	sidecarPath := filepath.Join(dir, "strings.json")
	entries := []InterpretedString{
		{Symbol: "data_3000", Address: "0x12345678", Value: "item_health", Category: "classname"},
	}
	buf, _ := json.Marshal(entries)
	if err := os.WriteFile(sidecarPath, buf, 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	r := NewResolver(newTestIndex(), nil, sidecarPath)
	got, ok := r.Resolve("0x12345678")
	if !ok || got != "item_health" {
		t.Fatalf("Resolve(0x12345678) = (%q, %v), want (item_health, true)", got, ok)
	}
}

func TestResolveHexFallsBackToLiveImage(t *testing.T) {
	const imageBase = 0x10000000
	text := make([]byte, 0x2000)
	copy(text[0x100:], []byte("weapon_rtdu\x00"))

	path := writeSyntheticPE(t, buildSyntheticPE(t, imageBase, text))
	img, err := peimage.Load(path)
	if err != nil {
		t.Fatalf("peimage.Load: %v", err)
	}

	r := NewResolver(newTestIndex(), img, "")
	va := imageBase + 0x100
	got, ok := r.Resolve(fmt.Sprintf("0x%x", va))
	if !ok || got != "weapon_rtdu" {
		t.Fatalf("Resolve(live image va) = (%q, %v), want (weapon_rtdu, true)", got, ok)
	}
}

func TestResolveUnknownTokenFails(t *testing.T) {
	r := NewResolver(newTestIndex(), nil, "")
	if _, ok := r.Resolve("data_deadbeef"); ok {
		t.Fatalf("Resolve(unregistered data label) should fail with no index/sidecar/image")
	}
}
