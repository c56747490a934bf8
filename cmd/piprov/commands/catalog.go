package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/piprov/piprov/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show the image resolved for every variant",
	RunE:  runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	cat, err := newResolver(cfg, fetcher).Catalog(cmd.Context())
	if err != nil {
		return err
	}

	variants := make([]catalog.Variant, 0, len(cat))
	for v := range cat {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].String() < variants[j].String() })

	fmt.Printf("%-10s %-8s %-50s %s\n", "VARIANT", "SOURCE", "FILENAME", "URL")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, v := range variants {
		src := cat[v]
		origin := "pinned"
		if src.Live {
			origin = "live"
		}
		fmt.Printf("%-10s %-8s %-50s %s\n", v, origin, src.Filename, src.URL())
	}
	return nil
}
