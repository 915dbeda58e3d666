package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-cli/internal/refdata"
)

var refcheckSync bool

var refcheckCmd = &cobra.Command{
	Use:   "refcheck",
	Short: "Validate the reference mapping tables",
	Long: `Loads the configured reference workbook or CSV directory, compiles
every channel rule, and reports row counts per table. With --sync the
validated tables are also mirrored into the store's dimension tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tables, _, err := loadReference()
		if err != nil {
			return eris.Wrap(err, "reference tables failed validation")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tROWS")
		fmt.Fprintf(w, "%s\t%d\n", refdata.TableChannelMap, len(tables.Channels))
		fmt.Fprintf(w, "%s\t%d\n", refdata.TableSKUMap, len(tables.SKUs))
		fmt.Fprintf(w, "%s\t%d\n", refdata.TablePromoBudget, len(tables.Promos))
		fmt.Fprintf(w, "%s\t%d\n", refdata.TableInfluencerMap, len(tables.Influencers))
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println("\nreference tables OK")

		if !refcheckSync {
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := st.SyncReference(ctx, &tables); err != nil {
			return eris.Wrap(err, "sync reference tables")
		}
		zap.L().Info("reference tables synced to store")
		return nil
	},
}

func init() {
	refcheckCmd.Flags().BoolVar(&refcheckSync, "sync", false, "mirror tables into the store after validation")
	rootCmd.AddCommand(refcheckCmd)
}
