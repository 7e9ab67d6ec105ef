package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"margins/internal/pipeline"
)

// inspectCmd lists the fitted models present in the data directory.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the fitted models in the data directory",
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	p, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}
	ids, err := p.Store().List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no models found under %s", cfg.DataDir)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tFAMILY\tSUBSET\tLINK\tDRAWS\tTERMS\tOBS")
	for _, id := range ids {
		m, err := p.Store().LoadModel(id)
		if err != nil {
			return err
		}
		obs, err := p.Store().LoadObservations(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			m.Meta.ID, m.Meta.Family, m.Meta.Subset, m.Meta.Link,
			m.Meta.Draws, len(m.Terms), len(obs))
	}
	return tw.Flush()
}
