package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/systemsculpt/studio/pkg/facade"
	"github.com/systemsculpt/studio/pkg/studiotypes"
)

var (
	grantCapability string
	grantPaths      []string
	grantCommands   []string
	grantDomains    []string
)

var grantCmd = &cobra.Command{
	Use:   "grant <project.json>",
	Short: "Add a permission grant to a project's policy",
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

		grant := studiotypes.Grant{
			ID:            facade.NewGrantID(),
			Capability:    studiotypes.GrantCapability(grantCapability),
			GrantedByUser: true,
			Scope: studiotypes.GrantScope{
				AllowedPaths:           grantPaths,
				AllowedCommandPatterns: grantCommands,
				AllowedDomains:         grantDomains,
			},
		}
		policy, err := f.AddGrant(p, grant)
		if err != nil {
			return err
		}
		fmt.Println(color.GreenString("granted %s (%d total grant(s) now on policy)", grant.Capability, len(policy.Grants)))
		return nil
	},
}

func init() {
	grantCmd.Flags().StringVar(&grantCapability, "capability", "", "filesystem, cli or network")
	grantCmd.Flags().StringSliceVar(&grantPaths, "paths", nil, "allowed filesystem path prefixes")
	grantCmd.Flags().StringSliceVar(&grantCommands, "commands", nil, "allowed CLI command glob patterns")
	grantCmd.Flags().StringSliceVar(&grantDomains, "domains", nil, "allowed network domains")
	_ = grantCmd.MarkFlagRequired("capability")
}
