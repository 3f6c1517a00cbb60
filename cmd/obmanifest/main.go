// Command obmanifest reconstructs the spawn manifest for a legacy PE game
// binary from its decompiled HLIL listing, cross-checks it against a
// candidate C re-implementation, and reports the divergence.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kjorg/oblivion-manifest/internal/comparator"
	"github.com/kjorg/oblivion-manifest/internal/hlil"
	"github.com/kjorg/oblivion-manifest/internal/itemlist"
	glog "github.com/kjorg/oblivion-manifest/internal/log"
	"github.com/kjorg/oblivion-manifest/internal/manifest"
	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
	"github.com/kjorg/oblivion-manifest/internal/repoparser"
	"github.com/kjorg/oblivion-manifest/internal/trace"
	"github.com/kjorg/oblivion-manifest/internal/ui/colorize"
)

var (
	hlilPath     string
	repoPath     string
	outputPath   string
	comparePath  string
	b150DumpPath string
	pretty       bool
	defines      []string
	verbose      bool
	quiet        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "obmanifest",
		Short: "Reconstruct and cross-check a legacy game's entity spawn manifest",
		Long: `obmanifest reconstructs a spawn manifest for a legacy 32-bit PE game binary
by indexing its decompiled HLIL listing, interpreting binary fallbacks where
no IL block exists, and merging evidence from the item table and PE spawn
tables. It then cross-checks the result against a candidate C source
re-implementation and reports any divergence.

Examples:
  obmanifest --hlil gamex86.dll_hlil.txt --repo ./oblivion-src --output manifest.json
  obmanifest --hlil gamex86.dll_hlil.txt --repo ./oblivion-src --comparison diff.json --pretty
  obmanifest --hlil gamex86.dll_hlil.txt --repo ./oblivion-src -D OBLIVION_ENABLE_MONSTER_SENTINEL=0`,
		RunE: runExtract,
	}

	rootCmd.Flags().StringVar(&hlilPath, "hlil", "references/HLIL/oblivion/gamex86.dll_hlil.txt", "path to the HLIL listing")
	rootCmd.Flags().StringVar(&repoPath, "repo", "", "repo root for the C-source parser (required)")
	rootCmd.Flags().StringVar(&outputPath, "output", "", "write the combined manifest JSON here (stdout if empty)")
	rootCmd.Flags().StringVar(&comparePath, "comparison", "", "write the comparison JSON here (stdout if empty)")
	rootCmd.Flags().StringVar(&b150DumpPath, "dump-b150-map", "", "write the sub_1000b150 logged-literal map here")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print JSON output with syntax highlighting")
	rootCmd.Flags().StringArrayVarP(&defines, "define", "D", nil, "macro override NAME[=VALUE] for the repo parser, repeatable")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode (errors only)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	glog.Init(verbose)

	if repoPath == "" {
		return fmt.Errorf("--repo is required")
	}

	idx, err := hlil.Build(hlilPath)
	if err != nil {
		return fmt.Errorf("read HLIL listing: %w", err)
	}

	peImagePath := strings.TrimSuffix(hlilPath, "_hlil.txt")
	var img *peimage.Image
	if peImagePath != hlilPath {
		if loaded, err := peimage.Load(peImagePath); err == nil {
			img = loaded
		} else if !quiet {
			fmt.Fprintf(os.Stderr, "warning: PE image unreadable, binary fallback disabled: %v\n", err)
		}
	}

	interpretedDir := filepath.Join(filepath.Dir(hlilPath), "interpreted")
	stringsSidecar := filepath.Join(interpretedDir, "strings.json")
	controllerSidecar := filepath.Join(interpretedDir, "controller_classnames.json")
	b150Sidecar := filepath.Join(interpretedDir, "sub_1000b150_map.json")

	resolver := hlil.NewResolver(idx, img, stringsSidecar)

	var items []itemlist.Entry
	if img != nil {
		items = itemlist.Read(img)
	}

	var evidence []*trace.Event
	if verbose {
		glog.L.SetOnEvidence(func(source, classname, detail string) {
			e := trace.NewEvent(0, trace.Source(source), classname, detail)
			trace.DefaultEnricher(e)
			evidence = append(evidence, e)
		})
	}

	spawnMap := hlil.BuildSpawnMap(idx, resolver, img, items, controllerSidecar, b150Sidecar)
	hlilManifest, _ := manifest.Assemble(idx, img, items, spawnMap)

	overrides, err := parseDefines(defines)
	if err != nil {
		return err
	}
	repoManifest := repoparser.New(repoPath, overrides).BuildManifest()

	cmp := comparator.Compare(hlilManifest, repoManifest)

	if b150DumpPath != "" {
		b150Map := hlil.BuildB150Map(idx, img, b150Sidecar)
		if err := writeJSON(b150DumpPath, b150Map); err != nil {
			return fmt.Errorf("write b150 map: %w", err)
		}
	}

	combined := buildCombinedOutput(hlilManifest, repoManifest)

	if err := emitJSON(outputPath, combined); err != nil {
		return fmt.Errorf("write manifest output: %w", err)
	}
	if err := emitJSON(comparePath, cmp); err != nil {
		return fmt.Errorf("write comparison output: %w", err)
	}

	if verbose {
		printEvidenceLog(evidence)
	}
	if !quiet {
		printSummary(hlilManifest, repoManifest, cmp)
	}

	return nil
}

func printEvidenceLog(events []*trace.Event) {
	for _, e := range events {
		confidence := e.Annotations.Get("confidence")
		fmt.Printf("  %s %s -> %s  %s\n",
			colorize.Source(e.PrimarySource()),
			colorize.Classname(e.Classname),
			colorize.Detail(e.Detail),
			colorize.Detail(confidence))
	}
	fmt.Println()
}

func parseDefines(defs []string) (map[string]string, error) {
	overrides := make(map[string]string, len(defs))
	for _, d := range defs {
		if d == "" {
			continue
		}
		if i := strings.IndexByte(d, '='); i >= 0 {
			overrides[d[:i]] = d[i+1:]
		} else {
			overrides[d] = "1"
		}
	}
	return overrides, nil
}

// hlilOutEntry and repoOutEntry are the combined manifest's JSON shapes,
// per the external-interface spec: defaults are flattened to one value per
// field (the first write observed), keeping the richer per-write history in
// the internal model.Defaults type for the comparator's own tie-breaking.
type hlilOutEntry struct {
	Function         string              `json:"function"`
	Defaults         map[string]float64  `json:"defaults"`
	DefaultsSource   string              `json:"defaults_source"`
	Spawnflags       model.SpawnEvidence `json:"spawnflags"`
	SpawnflagsSource string              `json:"spawnflags_source"`
	BlockSource      string              `json:"block_source"`
}

type repoOutEntry struct {
	Function   string              `json:"function"`
	Defaults   map[string]float64  `json:"defaults"`
	Spawnflags model.SpawnEvidence `json:"spawnflags"`
}

type combinedOutput struct {
	HLIL map[string]hlilOutEntry `json:"hlil"`
	Repo map[string]repoOutEntry `json:"repo"`
}

func buildCombinedOutput(hlilManifest map[string]model.HLILEntry, repoManifest map[string]model.RepoEntry) combinedOutput {
	out := combinedOutput{
		HLIL: make(map[string]hlilOutEntry, len(hlilManifest)),
		Repo: make(map[string]repoOutEntry, len(repoManifest)),
	}
	for classname, entry := range hlilManifest {
		out.HLIL[classname] = hlilOutEntry{
			Function:         entry.Function,
			Defaults:         flattenDefaults(entry.Defaults),
			DefaultsSource:   string(entry.DefaultsSource),
			Spawnflags:       entry.Spawnflags,
			SpawnflagsSource: string(entry.SpawnflagsSource),
			BlockSource:      string(entry.BlockSource),
		}
	}
	for classname, entry := range repoManifest {
		out.Repo[classname] = repoOutEntry{
			Function:   entry.Function,
			Defaults:   entry.Defaults,
			Spawnflags: entry.Spawnflags,
		}
	}
	return out
}

func flattenDefaults(d model.Defaults) map[string]float64 {
	out := make(map[string]float64, len(d))
	for field, values := range d {
		if len(values) == 0 {
			continue
		}
		dv := values[0]
		if dv.IsFloat {
			out[field] = dv.FltValue
		} else {
			out[field] = float64(dv.IntValue)
		}
	}
	return out
}

func emitJSON(path string, v interface{}) error {
	var buf []byte
	var err error
	if pretty {
		buf, err = json.MarshalIndent(v, "", "  ")
	} else {
		buf, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	if path == "" {
		if pretty {
			fmt.Println(colorize.JSON(string(buf)))
		} else {
			fmt.Println(string(buf))
		}
		return nil
	}
	return writeJSONBytes(path, buf)
}

func writeJSON(path string, v interface{}) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeJSONBytes(path, buf)
}

func writeJSONBytes(path string, buf []byte) error {
	return os.WriteFile(path, append(buf, '\n'), 0o644)
}

func printSummary(hlilManifest map[string]model.HLILEntry, repoManifest map[string]model.RepoEntry, cmp comparator.Comparison) {
	classnames := make([]string, 0, len(hlilManifest))
	for c := range hlilManifest {
		classnames = append(classnames, c)
	}
	sort.Strings(classnames)

	fmt.Printf("%s %s classnames (%s repo)\n",
		colorize.Header("▶"),
		colorize.FuncName(fmt.Sprintf("%d", len(classnames))),
		colorize.FuncName(fmt.Sprintf("%d", len(repoManifest))))

	for _, classname := range classnames {
		entry := hlilManifest[classname]
		fmt.Printf("  %s  %s  %s\n",
			colorize.Classname(classname),
			colorize.FuncName(entry.Function),
			colorize.Source(string(entry.BlockSource)))
	}

	fmt.Println()
	fmt.Printf("%s missing_in_repo  %s missing_in_hlil  %s spawnflag_mismatches  %s default_mismatches\n",
		colorize.Detail(fmt.Sprintf("%d", len(cmp.MissingInRepo))),
		colorize.Detail(fmt.Sprintf("%d", len(cmp.MissingInHLIL))),
		colorize.Mismatch(fmt.Sprintf("%d", len(cmp.SpawnflagMismatches))),
		colorize.Mismatch(fmt.Sprintf("%d", len(cmp.DefaultMismatches))))
}
