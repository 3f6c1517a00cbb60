package comparator

import (
	"testing"

	"github.com/kjorg/oblivion-manifest/internal/model"
)

func TestCompareMissingClassnames(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		"monster_jorg": {Classname: "monster_jorg", Function: "sub_10001ac0", HasBlock: true},
	}
	repoManifest := map[string]model.RepoEntry{
		"monster_sentinel": {Classname: "monster_sentinel", Function: "SpawnMonsterSentinel"},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.MissingInRepo) != 1 || cmp.MissingInRepo[0] != "monster_jorg" {
		t.Fatalf("MissingInRepo = %v", cmp.MissingInRepo)
	}
	if len(cmp.MissingInHLIL) != 1 || cmp.MissingInHLIL[0] != "monster_sentinel" {
		t.Fatalf("MissingInHLIL = %v", cmp.MissingInHLIL)
	}
}

func TestCompareSkipsItemlistSentinelFunction(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		"weapon_rtdu": {
			Classname:        "weapon_rtdu",
			Function:         model.SpawnItemFromItemlist,
			HasBlock:         true,
			SpawnflagsSource: model.EvidenceHLIL,
			Spawnflags:       model.SpawnEvidence{Sets: []uint32{1}},
		},
	}
	repoManifest := map[string]model.RepoEntry{
		"weapon_rtdu": {
			Classname:  "weapon_rtdu",
			Function:   model.SpawnItemFromItemlist,
			Spawnflags: model.SpawnEvidence{Sets: []uint32{2}},
		},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.SpawnflagMismatches) != 0 {
		t.Fatalf("mismatches should be skipped for itemlist sentinel function, got %v", cmp.SpawnflagMismatches)
	}
}

func TestCompareHLILMissingBlocksOnlyReportsSharedClassnames(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		// Has no block and exists in the repo manifest too: should be reported.
		"monster_jorg": {Classname: "monster_jorg", Function: "sub_10001ac0", HasBlock: false},
		// Has no block but the repo manifest never heard of it: counts as
		// missing_in_repo, not hlil_missing_blocks.
		"monster_ghost": {Classname: "monster_ghost", Function: "sub_10002000", HasBlock: false},
	}
	repoManifest := map[string]model.RepoEntry{
		"monster_jorg": {Classname: "monster_jorg", Function: "SpawnMonsterJorg"},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.HLILMissingBlocks) != 1 || cmp.HLILMissingBlocks[0] != "monster_jorg" {
		t.Fatalf("HLILMissingBlocks = %v, want [monster_jorg] only", cmp.HLILMissingBlocks)
	}
	if len(cmp.MissingInRepo) != 1 || cmp.MissingInRepo[0] != "monster_ghost" {
		t.Fatalf("MissingInRepo = %v, want [monster_ghost]", cmp.MissingInRepo)
	}
}

func TestCompareDiffsAssignments(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		"monster_jorg": {
			Classname:        "monster_jorg",
			Function:         "sub_10001ac0",
			HasBlock:         true,
			SpawnflagsSource: model.EvidenceHLIL,
			Spawnflags:       model.SpawnEvidence{Assignments: []uint32{4}},
		},
	}
	repoManifest := map[string]model.RepoEntry{
		"monster_jorg": {
			Classname:  "monster_jorg",
			Function:   "SpawnMonsterJorg",
			Spawnflags: model.SpawnEvidence{Assignments: []uint32{8}},
		},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.SpawnflagMismatches) != 1 {
		t.Fatalf("SpawnflagMismatches = %v, want one assignments-only mismatch", cmp.SpawnflagMismatches)
	}
	m := cmp.SpawnflagMismatches[0]
	if len(m.AssignmentsOnlyHLIL) != 1 || m.AssignmentsOnlyHLIL[0] != 4 {
		t.Fatalf("AssignmentsOnlyHLIL = %v, want [4]", m.AssignmentsOnlyHLIL)
	}
	if len(m.AssignmentsOnlyRepo) != 1 || m.AssignmentsOnlyRepo[0] != 8 {
		t.Fatalf("AssignmentsOnlyRepo = %v, want [8]", m.AssignmentsOnlyRepo)
	}
}

func TestCompareReportsDefaultFieldMissingFromRepo(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		"monster_jorg": {
			Classname:        "monster_jorg",
			Function:         "sub_10001ac0",
			HasBlock:         true,
			SpawnflagsSource: model.EvidenceHLIL,
			Defaults: model.Defaults{
				"health": {{IntValue: 850}},
			},
		},
	}
	repoManifest := map[string]model.RepoEntry{
		"monster_jorg": {
			Classname: "monster_jorg",
			Function:  "SpawnMonsterJorg",
			Defaults:  map[string]float64{},
		},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.DefaultMismatches) != 1 {
		t.Fatalf("DefaultMismatches = %v, want one HLIL-only mismatch", cmp.DefaultMismatches)
	}
	got := cmp.DefaultMismatches[0]
	if got.Field != "health" || got.HLIL != 850 {
		t.Fatalf("DefaultMismatches[0] = %+v, want field=health hlil=850", got)
	}
	if got.Repo != nil {
		t.Fatalf("DefaultMismatches[0].Repo = %v, want nil (repo never wrote this field)", *got.Repo)
	}
}

func TestCompareDefaultFloatTolerance(t *testing.T) {
	hlilManifest := map[string]model.HLILEntry{
		"monster_jorg": {
			Classname:        "monster_jorg",
			Function:         "sub_10001ac0",
			HasBlock:         true,
			SpawnflagsSource: model.EvidenceHLIL,
			Defaults: model.Defaults{
				"health": {{FltValue: 100.00005, IsFloat: true}},
			},
		},
	}
	repoManifest := map[string]model.RepoEntry{
		"monster_jorg": {
			Classname: "monster_jorg",
			Function:  "SpawnMonsterJorg",
			Defaults:  map[string]float64{"health": 100.0},
		},
	}

	cmp := Compare(hlilManifest, repoManifest)

	if len(cmp.DefaultMismatches) != 0 {
		t.Fatalf("values within tolerance should not mismatch: %v", cmp.DefaultMismatches)
	}
}
