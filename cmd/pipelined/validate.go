package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/pipelined/internal/app"
)

// phaseView is the JSON form of a resolved phase.
type phaseView struct {
	Name    string   `json:"name"`
	Modules []string `json:"modules"`
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate [pipeline]",
		Short: "Check a pipeline and print its phases",
		Long: `Load the configuration, build the pipeline's module graph and print the
phases it resolves to. Unknown dependencies, unknown fallback chains and
dependency cycles are reported without running anything.

Examples:
  pipelined validate
  pipelined validate fullstack-app --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			pipeline := ""
			if len(args) == 1 {
				pipeline = args[0]
			}

			engine, err := app.Build(cfg, pipeline, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			phases := engine.Scheduler.Phases()
			out := cmd.OutOrStdout()

			if asJSON {
				views := make([]phaseView, 0, len(phases))
				for _, p := range phases {
					views = append(views, phaseView{Name: p.Name, Modules: p.Names()})
				}
				return outputJSON(out, views)
			}

			fmt.Fprintf(out, "Pipeline %s: %d modules in %d phases\n", engine.Pipeline, engine.Registry.Len(), len(phases))
			for _, p := range phases {
				fmt.Fprintf(out, "  %s:", p.Name)
				for _, d := range p.Modules {
					marker := ""
					if d.Critical {
						marker = "*"
					}
					fmt.Fprintf(out, " %s%s", d.Name, marker)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "(* critical)")
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print phases as JSON")
	return cmd
}
