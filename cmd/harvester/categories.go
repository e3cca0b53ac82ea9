package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/scraper"
)

func newCategoriesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Print the resolved site and its categories.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			client, err := scraper.NewClient(cfg)
			if err != nil {
				return fmt.Errorf("initialising client: %w", err)
			}

			site, err := scraper.ResolveSite(cmd.Context(), client, cfg.SiteName)
			if err != nil {
				return err
			}
			categories, err := client.Categories(cmd.Context(), site.ID)
			if err != nil {
				return err
			}
			return printCategories(cmd.OutOrStdout(), site, categories)
		},
	}
}

func printCategories(w io.Writer, site models.Site, categories []models.Category) error {
	fmt.Fprintf(w, "%s (%s): %d categories\n", site.Name, site.ID, len(categories))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%s\n", c.ID, c.Name)
	}
	return tw.Flush()
}
