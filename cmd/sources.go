package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/sales-cli/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered source schemas and raw data directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := source.NewRegistry()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCHEMA\tSOURCE\tVERSION")
		for _, s := range registry.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name(), s.Source(), s.Version())
		}
		if err := w.Flush(); err != nil {
			return err
		}

		dirs, err := rawSourceDirs(cfg.Run.RawDir)
		if err != nil {
			// The raw dir is optional for this command; schemas alone are
			// still useful output.
			fmt.Printf("\nraw dir %s: %v\n", cfg.Run.RawDir, err)
			return nil
		}

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RAW DIR\tMANIFEST")
		for _, dir := range dirs {
			manifest, err := source.ReadManifest(filepath.Join(cfg.Run.RawDir, dir))
			switch {
			case err != nil:
				fmt.Fprintf(w, "%s\tinvalid: %v\n", dir, err)
			case manifest == nil:
				fmt.Fprintf(w, "%s\t(registry default)\n", dir)
			case manifest.Mapping != nil:
				fmt.Fprintf(w, "%s\tcustom mapping (%s@%s)\n", dir, manifest.Source, manifest.Version)
			default:
				fmt.Fprintf(w, "%s\t%s@%s\n", dir, manifest.Source, manifest.Version)
			}
		}
		return w.Flush()
	},
}

// rawSourceDirs lists the per-source subdirectories of the raw data dir.
func rawSourceDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
