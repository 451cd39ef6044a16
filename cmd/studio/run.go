package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/systemsculpt/studio/pkg/adapter"
	"github.com/systemsculpt/studio/pkg/assets"
	"github.com/systemsculpt/studio/pkg/facade"
	"github.com/systemsculpt/studio/pkg/log"
	"github.com/systemsculpt/studio/pkg/permissions"
	"github.com/systemsculpt/studio/pkg/recents"
	"github.com/systemsculpt/studio/pkg/runtime"
	"github.com/systemsculpt/studio/pkg/sandbox"
	"github.com/systemsculpt/studio/pkg/secrets"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

var (
	runScopeEntries []string
	runForceNodes   []string
	runRecentsDB    string
)

var runCmd = &cobra.Command{
	Use:   "run <project.json>",
	Short: "Run a project's node graph end to end",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		p, err := f.OpenProject(args[0])
		if err != nil {
			return err
		}

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("running "+p.Name),
			progressbar.OptionSpinnerType(14),
		)
		defer bar.Finish()

		ctx := context.Background()
		var summary *studiotypes.RunSummary
		if len(runScopeEntries) > 0 {
			summary, err = f.RunScoped(ctx, p, runScopeEntries, runForceNodes)
		} else {
			summary, err = f.Run(ctx, p)
		}
		_ = bar.Clear()
		if err != nil {
			return fmt.Errorf("run failed before start: %w", err)
		}

		printSummary(summary)
		if summary.Status == studiotypes.RunFailed {
			return fmt.Errorf("run %s failed: %s", summary.RunID, summary.Error)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runScopeEntries, "scope", nil, "run only the subgraph reachable from these entry node IDs")
	runCmd.Flags().StringSliceVar(&runForceNodes, "force", nil, "force cache bypass for these node IDs")
	runCmd.Flags().StringVar(&runRecentsDB, "recents-db", "", "path to the cross-project recents index (disabled if empty)")
}

func printSummary(s *studiotypes.RunSummary) {
	switch s.Status {
	case studiotypes.RunSuccess:
		fmt.Println(color.GreenString("run %s succeeded", s.RunID))
	case studiotypes.RunFailed:
		fmt.Println(color.RedString("run %s failed: %s", s.RunID, s.Error))
	default:
		fmt.Printf("run %s: %s\n", s.RunID, s.Status)
	}
	fmt.Printf("  executed: %v\n", s.Executed)
	fmt.Printf("  cached:   %v\n", s.Cached)
	fmt.Printf("  duration: %s\n", s.FinishedAt.Sub(s.StartedAt))
}

// newFacade builds a Facade wired the way a real embedding host would:
// a dev registry of smoke-test node kinds, an HTTPS adapter gated by
// each run's own permission policy, and subprocess sandboxing through
// pkg/sandbox. A real host supplies its own node-kind registry in place
// of newDevRegistry.
func newFacade() (*facade.Facade, error) {
	reg := newDevRegistry()
	engine := runtime.NewEngine(reg, runtime.DefaultLimits(), log.WithComponent(log.Logger, "runtime"))

	var recentsIdx *recents.Index
	if runRecentsDB != "" {
		idx, err := recents.Open(runRecentsDB)
		if err != nil {
			return nil, fmt.Errorf("open recents index: %w", err)
		}
		recentsIdx = idx
	}

	return facade.New(facade.Config{
		Registry: reg,
		Engine:   engine,
		Recents:  recentsIdx,
		Logger:   log.WithComponent(log.Logger, "facade"),
		HostServicesFor: func(assetsDir string, policy studiotypes.PermissionPolicy) runtime.HostServices {
			perms := permissions.New(policy, log.WithComponent(log.Logger, "permissions"))
			sb := sandbox.New(perms, true, log.WithComponent(log.Logger, "sandbox"))
			store := assets.New(assetsDir, log.WithComponent(log.Logger, "assets"))
			client := adapter.New(adapter.Config{
				HTTPClient: &http.Client{Timeout: 60 * time.Second},
				Network:    perms,
				CLI:        sb,
				Assets:     store,
				VaultDir:   assetsDir,
				Logger:     log.WithComponent(log.Logger, "adapter"),
			})
			return runtime.HostServices{
				Adapter: client,
				Secrets: secrets.New(nil), // no OS keychain wired in this CLI harness
				Assets:  store,
				Desktop: true,
			}
		},
	}), nil
}
