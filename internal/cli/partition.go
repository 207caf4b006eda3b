package cli

import (
	"strconv"
	"strings"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/config"
	"github.com/lherron/exportmerge/internal/merge"
	"github.com/lherron/exportmerge/internal/record"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/spf13/cobra"
)

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Show how team and project slugs are spread across sources",
	Long: `Partition reads the source exports and reports, for teams and projects,
how many slugs each source has, how many exist in that source only, and how
many appear in more than one source. Slugs that differ only by case or
Unicode normalization are listed as collisions; they are never merged.

Use --keys to list every slug with the sources that have it.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.Options{}, runPartition),
}

var (
	partitionSources []string
	partitionKeys    bool
)

func init() {
	rootCmd.AddCommand(partitionCmd)

	partitionCmd.Flags().StringArrayVar(&partitionSources, "source", nil, "Source as name=path, repeatable, highest priority first (overrides config)")
	partitionCmd.Flags().BoolVar(&partitionKeys, "keys", false, "List every slug and the sources that have it")
}

type partitionKey struct {
	Model   string   `json:"model" yaml:"model"`
	Key     string   `json:"key" yaml:"key"`
	Sources []string `json:"sources" yaml:"sources"`
}

type partitionOutcome struct {
	Partitions []merge.PartitionSummary `json:"partitions" yaml:"partitions"`
	Collisions []merge.SlugCollision    `json:"slug_collisions,omitempty" yaml:"slug_collisions,omitempty"`
	Keys       []partitionKey           `json:"keys,omitempty" yaml:"keys,omitempty"`
}

func runPartition(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := *app.Config
	sources, err := resolveSources(app.Config, partitionSources)
	if err != nil {
		return err
	}
	cfg.Sources = sources
	cfg.Base = ""
	if err := cfg.Validate(); err != nil {
		return exitError(exitUsage, err)
	}

	loaded, err := loadSources(cfg.Sources, app.Logger)
	if err != nil {
		return exitError(exitGeneral, err)
	}

	partitions, err := merge.PartitionAll(loaded.Stores)
	if err != nil {
		return exitError(exitGeneral, err)
	}

	out := &partitionOutcome{}
	for _, model := range record.ParentModels {
		p := partitions[model]
		out.Partitions = append(out.Partitions, p.Summary())
		out.Collisions = append(out.Collisions, merge.AuditSlugs(p)...)
		if partitionKeys {
			out.Keys = append(out.Keys, keysOf(p)...)
		}
	}
	for _, c := range out.Collisions {
		app.Logger.Warn("slugs differ only by case or normalization", "model", c.Model, "slugs", c.Slugs)
	}

	table := render.TableFunc(func() ([]string, [][]string) {
		if partitionKeys {
			return keysTable(out.Keys)
		}
		return summaryTable(out.Partitions, cfg.Sources)
	})
	return app.Renderer(cmd.OutOrStdout()).RenderAs(out, table)
}

// keysOf lists the union of p's keys in processing order.
func keysOf(p *merge.Partition) []partitionKey {
	present := make(map[string]map[string]bool, len(p.Sources))
	for _, source := range p.Sources {
		present[source] = make(map[string]bool, len(p.Keys[source]))
		for _, k := range p.Keys[source] {
			present[source][k] = true
		}
	}

	var keys []partitionKey
	for _, key := range p.Union() {
		pk := partitionKey{Model: p.Model, Key: key}
		for _, source := range p.Sources {
			if present[source][key] {
				pk.Sources = append(pk.Sources, source)
			}
		}
		keys = append(keys, pk)
	}
	return keys
}

func keysTable(keys []partitionKey) ([]string, [][]string) {
	headers := []string{"MODEL", "KEY", "SOURCES"}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k.Model, k.Key, strings.Join(k.Sources, ",")})
	}
	return headers, rows
}

func summaryTable(summaries []merge.PartitionSummary, sources []config.SourceConfig) ([]string, [][]string) {
	headers := []string{"MODEL", "SOURCE", "COUNT", "ONLY"}
	var rows [][]string
	for _, s := range summaries {
		for _, src := range sources {
			name := src.Name
			rows = append(rows, []string{s.Model, name, strconv.Itoa(s.PerSource[name]), strconv.Itoa(s.Only[name])})
		}
		rows = append(rows, []string{s.Model, "(multi)", strconv.Itoa(s.Multi), ""})
		rows = append(rows, []string{s.Model, "(total)", strconv.Itoa(s.Total), ""})
	}
	return headers, rows
}
