package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lherron/exportmerge/internal/cli/appctx"
	"github.com/lherron/exportmerge/internal/orgfix"
	"github.com/lherron/exportmerge/internal/render"
	"github.com/lherron/exportmerge/internal/snapshot"
	"github.com/spf13/cobra"
)

var patchOrgCmd = &cobra.Command{
	Use:   "patch-org <merged-export>",
	Short: "Point a merged export at a different organization",
	Long: `Patch-org sets the organization of every team and project in an export
and adds a null platform to projects that lack one, so the export can be
loaded into an instance whose organization id differs from the sources'.

The input is left untouched; the patched export is written to --out, or to a
new timestamped file in the configured output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: appctx.WithApp(appctx.Options{}, runPatchOrg),
}

var (
	patchOrgID        int64
	patchOrgOut       string
	patchOrgForce     bool
	patchOrgCanonical bool
)

func init() {
	rootCmd.AddCommand(patchOrgCmd)

	patchOrgCmd.Flags().Int64Var(&patchOrgID, "organization-id", 0, "Organization id to set (default: config organization_id, else 1)")
	patchOrgCmd.Flags().StringVar(&patchOrgOut, "out", "", "Output path")
	patchOrgCmd.Flags().BoolVar(&patchOrgForce, "force", false, "Overwrite --out if it exists")
	patchOrgCmd.Flags().BoolVar(&patchOrgCanonical, "canonical", false, "Write compact output instead of indented")
}

type patchOrgOutcome struct {
	Input   *snapshot.LoadResult  `json:"input" yaml:"input"`
	Output  *snapshot.WriteResult `json:"output" yaml:"output"`
	OrgID   int64                 `json:"organization_id" yaml:"organization_id"`
	Patched *orgfix.Result        `json:"patched" yaml:"patched"`
}

func runPatchOrg(app *appctx.App, cmd *cobra.Command, args []string) error {
	orgID := patchOrgID
	if orgID == 0 {
		orgID = app.Config.OrganizationID
	}
	if orgID == 0 {
		orgID = 1
	}
	if orgID < 0 {
		return exitError(exitUsage, fmt.Errorf("invalid organization id %d", orgID))
	}

	records, input, err := snapshot.Load(args[0])
	if err != nil {
		return exitError(exitGeneral, err)
	}

	patched, result := orgfix.Patch(records, orgfix.Options{OrganizationID: orgID})
	app.Logger.Info("patched organization", "organization_id", orgID, "counts", result.Organization)

	out := patchOrgOut
	if out == "" {
		out = snapshot.MergedPath(app.Config.OutputDir, "orgfix", time.Now())
	}
	if out == args[0] || (fileExists(out) && !patchOrgForce) {
		return exitError(exitUsage, fmt.Errorf("refusing to overwrite %s (use --force with a different --out)", out))
	}

	written, err := snapshot.WriteFile(out, patched, snapshot.Options{Canonical: patchOrgCanonical})
	if err != nil {
		return exitError(exitGeneral, err)
	}

	outcome := &patchOrgOutcome{Input: input, Output: written, OrgID: orgID, Patched: result}
	return app.Renderer(cmd.OutOrStdout()).RenderAs(outcome, render.TableFunc(func() ([]string, [][]string) {
		models := make(map[string]bool)
		for m := range result.Organization {
			models[m] = true
		}
		for m := range result.Ensured {
			models[m] = true
		}
		names := make([]string, 0, len(models))
		for m := range models {
			names = append(names, m)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, m := range names {
			rows = append(rows, []string{m, strconv.Itoa(result.Organization[m]), strconv.Itoa(result.Ensured[m]), written.Path})
		}
		return []string{"MODEL", "ORGANIZATION", "ENSURED", "OUTPUT"}, rows
	}))
}
