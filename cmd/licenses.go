package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/transfer"
	"github.com/spf13/cobra"
)

var licensesCmd = &cobra.Command{
	Use:   "licenses",
	Short: "Generate, import and export license keys",
}

var (
	genGeneratorID int64
	genAmount      int
	genSave        bool
	genStatus      string
	genProductID   int64
	genOrderID     int64
)

var licensesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Mint keys with a generator, optionally saving them as licenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, ok := model.ParseLicenseStatus(genStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", genStatus)
		}
		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		opts := generators.GenerateOptions{Amount: genAmount, Save: genSave, Status: status}
		if genProductID > 0 {
			opts.ProductID = &genProductID
		}
		if genOrderID > 0 {
			opts.OrderID = &genOrderID
		}
		res, err := svcs.Generators.Generate(cmd.Context(), genGeneratorID, opts)
		if err != nil {
			return err
		}
		for _, k := range res.Keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		if genSave {
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %d licenses\n", res.Saved)
		}
		return nil
	},
}

var (
	impFile      string
	impStatus    string
	impProductID int64
	impValidFor  int
)

var licensesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import keys from a csv, txt or xlsx file",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := transfer.ParseFormat(impFile)
		if err != nil {
			return err
		}
		status, ok := model.ParseLicenseStatus(impStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", impStatus)
		}
		f, err := os.Open(impFile)
		if err != nil {
			return err
		}
		defer f.Close()

		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		opts := transfer.ImportOptions{Status: status}
		if impProductID > 0 {
			opts.ProductID = &impProductID
		}
		if impValidFor > 0 {
			opts.ValidFor = &impValidFor
		}
		res, err := svcs.Transfer.Import(cmd.Context(), f, format, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added=%d duplicates=%d failed=%d\n", res.Added, res.Duplicates, res.Failed)
		return nil
	},
}

var (
	expIDs     []int64
	expFormat  string
	expColumns []string
	expOut     string
)

var licensesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export licenses to csv or xlsx",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := transfer.ParseFormat(expFormat)
		if err != nil {
			return err
		}
		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		w := cmd.OutOrStdout()
		if expOut != "" {
			f, err := os.Create(expOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		n, err := svcs.Transfer.Export(cmd.Context(), w, expIDs, format, expColumns)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "exported %d licenses\n", n)
		return nil
	},
}

var deliveredOrderID int64

var licensesMarkDeliveredCmd = &cobra.Command{
	Use:   "mark-delivered",
	Short: "Mark an order's sold licenses as delivered",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		n, err := svcs.Orders.MarkOrderDelivered(cmd.Context(), deliveredOrderID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered %d licenses\n", n)
		return nil
	},
}

func init() {
	licensesGenerateCmd.Flags().Int64Var(&genGeneratorID, "generator", 0, "generator id")
	licensesGenerateCmd.Flags().IntVar(&genAmount, "amount", 1, "number of keys")
	licensesGenerateCmd.Flags().BoolVar(&genSave, "save", false, "store keys as licenses")
	licensesGenerateCmd.Flags().StringVar(&genStatus, "status", "active", "status of saved licenses")
	licensesGenerateCmd.Flags().Int64Var(&genProductID, "product", 0, "product id of saved licenses")
	licensesGenerateCmd.Flags().Int64Var(&genOrderID, "order", 0, "order id of saved licenses")
	_ = licensesGenerateCmd.MarkFlagRequired("generator")

	licensesImportCmd.Flags().StringVar(&impFile, "file", "", "csv, txt or xlsx file")
	licensesImportCmd.Flags().StringVar(&impStatus, "status", "active", "status of imported licenses")
	licensesImportCmd.Flags().Int64Var(&impProductID, "product", 0, "product id")
	licensesImportCmd.Flags().IntVar(&impValidFor, "valid-for", 0, "days valid after sale")
	_ = licensesImportCmd.MarkFlagRequired("file")

	licensesExportCmd.Flags().Int64SliceVar(&expIDs, "ids", nil, "license ids")
	licensesExportCmd.Flags().StringVar(&expFormat, "format", "csv", "csv or xlsx")
	licensesExportCmd.Flags().StringSliceVar(&expColumns, "columns", nil,
		"columns to export (default "+strings.Join(transfer.DefaultColumns, ",")+")")
	licensesExportCmd.Flags().StringVar(&expOut, "out", "", "output file (default stdout)")
	_ = licensesExportCmd.MarkFlagRequired("ids")

	licensesMarkDeliveredCmd.Flags().Int64Var(&deliveredOrderID, "order", 0, "order id")
	_ = licensesMarkDeliveredCmd.MarkFlagRequired("order")

	licensesCmd.AddCommand(licensesGenerateCmd, licensesImportCmd, licensesExportCmd, licensesMarkDeliveredCmd)
}
