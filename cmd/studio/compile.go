package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/systemsculpt/studio/pkg/compiler"
	"github.com/systemsculpt/studio/pkg/log"
	"github.com/systemsculpt/studio/pkg/project"
)

var compileCmd = &cobra.Command{
	Use:   "compile <project.json>",
	Short: "Validate and topologically sort a project without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := project.New(log.WithComponent(log.Logger, "project"))
		p, err := store.Load(args[0])
		if err != nil {
			return err
		}
		reg := newDevRegistry()
		graph, err := compiler.Compile(p, reg)
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("compiled %s: %d node(s)", p.Name, len(graph.Order)))
		for i, id := range graph.Order {
			fmt.Printf("  %2d. %s (%s)\n", i+1, id, graph.Nodes[id].Instance.Kind)
		}
		return nil
	},
}
