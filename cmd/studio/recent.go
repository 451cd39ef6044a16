package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemsculpt/studio/pkg/recents"
)

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently opened projects from the cross-project recents index",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runRecentsDB == "" {
			return fmt.Errorf("--recents-db is required")
		}
		idx, err := recents.Open(runRecentsDB)
		if err != nil {
			return err
		}
		defer idx.Close()

		entries, err := idx.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.LastOpened.Format("2006-01-02 15:04"), e.Name, e.ProjectPath)
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().StringVar(&runRecentsDB, "recents-db", "", "path to the cross-project recents index")
}
