package repoparser

import (
	"os"
	"path/filepath"
	"testing"
)

func writeGameDir(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	gameDir := filepath.Join(root, "src", "game")
	if err := os.MkdirAll(gameDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(gameDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

const gSpawnBase = `
spawn_t spawn_funcs[] = {
	{"monster_jorg", SP_monster_jorg},
	{"monster_sentinel", SP_monster_sentinel},
	{"func_door", SP_func_door},
	NULL
};

void SP_monster_jorg(edict_t *self) {
	self->health = 850;
	self->spawnflags |= 0x1;
}

void SP_monster_sentinel(edict_t *self) {
	self->health = 400;
}

void SP_func_door(edict_t *self) {
	self->speed = 100;
	if (self->spawnflags & 0x4) {
		self->wait = -1;
	}
	Think_SpawnDoorTrigger(self);
}

void Think_SpawnDoorTrigger(edict_t *self) {
	self->spawnflags |= 0x8;
}

void Think_CalcMoveSpeed(edict_t *self) {
}

void Door_ClearStartOpenFlag(edict_t *self) {
	self->spawnflags &= 0xFFFFFFFE;
}
`

const gItemsBase = `
gitem_t itemlist[] = {
	{"weapon_rtdu", ITEM_WEAPON},
	{"item_health", ITEM_HEALTH},
	{NULL}
};
`

func TestRepoParserSpawnMapAndDefaults(t *testing.T) {
	root := writeGameDir(t, map[string]string{
		"g_spawn.c": gSpawnBase,
		"g_items.c": gItemsBase,
	})

	p := New(root, nil)
	manifest := p.BuildManifest()

	jorg, ok := manifest["monster_jorg"]
	if !ok {
		t.Fatalf("monster_jorg missing from manifest")
	}
	if jorg.Defaults["health"] != 850 {
		t.Fatalf("health default = %v, want 850", jorg.Defaults["health"])
	}
	if len(jorg.Spawnflags.Sets) != 1 || jorg.Spawnflags.Sets[0] != 1 {
		t.Fatalf("sets = %v, want [1]", jorg.Spawnflags.Sets)
	}

	item, ok := manifest["item_health"]
	if !ok || item.Function != "SpawnItemFromItemlist" {
		t.Fatalf("item_health = %+v, want itemlist sentinel", item)
	}
}

func TestRepoParserMonsterSentinelMacroGate(t *testing.T) {
	root := writeGameDir(t, map[string]string{
		"g_spawn.c": gSpawnBase,
		"g_items.c": gItemsBase,
	})

	present := New(root, nil).BuildManifest()
	if _, ok := present["monster_sentinel"]; !ok {
		t.Fatalf("monster_sentinel should be present by default")
	}

	gated := New(root, map[string]string{"OBLIVION_ENABLE_MONSTER_SENTINEL": "0"}).BuildManifest()
	if _, ok := gated["monster_sentinel"]; ok {
		t.Fatalf("monster_sentinel should be removed under -D OBLIVION_ENABLE_MONSTER_SENTINEL=0")
	}
}

func TestRepoParserDoorHelperUnion(t *testing.T) {
	root := writeGameDir(t, map[string]string{
		"g_spawn.c": gSpawnBase,
		"g_items.c": gItemsBase,
	})

	manifest := New(root, nil).BuildManifest()
	door := manifest["func_door"]

	if len(door.Spawnflags.Checks) != 1 || door.Spawnflags.Checks[0] != 4 {
		t.Fatalf("checks = %v, want [4] from the spawn function itself", door.Spawnflags.Checks)
	}
	if len(door.Spawnflags.Sets) != 1 || door.Spawnflags.Sets[0] != 8 {
		t.Fatalf("sets = %v, want [8] unioned from Think_SpawnDoorTrigger", door.Spawnflags.Sets)
	}
	if len(door.Spawnflags.Clears) != 1 || door.Spawnflags.Clears[0] != 1 {
		t.Fatalf("clears = %v, want [1] unioned from Door_ClearStartOpenFlag", door.Spawnflags.Clears)
	}
}

func TestMacroResolverArithmetic(t *testing.T) {
	root := writeGameDir(t, map[string]string{
		"g_spawn.c": "#define BASE_FLAG 0x2\n#define DERIVED_FLAG (BASE_FLAG << 1)\n",
		"g_items.c": "",
	})

	r := NewMacroResolver(sourceFilesUnder(filepath.Join(root, "src", "game")), nil)

	v, ok := r.Evaluate("DERIVED_FLAG")
	if !ok || v != 4 {
		t.Fatalf("DERIVED_FLAG = %v, %v, want 4, true", v, ok)
	}
}

func TestRepoDenylistExcludesAccidentalLiterals(t *testing.T) {
	root := writeGameDir(t, map[string]string{
		"g_spawn.c": `
spawn_t spawn_funcs[] = {
	{"%s/listip.cfg", SP_noise},
	{"monster_jorg", SP_monster_jorg},
	NULL
};
void SP_noise(edict_t *self) {
	self->count = 0;
}
void SP_monster_jorg(edict_t *self) {
	self->health = 850;
}
`,
		"g_items.c": "",
	})

	manifest := New(root, nil).BuildManifest()
	if _, ok := manifest["%s/listip.cfg"]; ok {
		t.Fatalf("denylisted literal leaked into manifest")
	}
	if _, ok := manifest["monster_jorg"]; !ok {
		t.Fatalf("monster_jorg missing")
	}
}
