package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-suggest/internal/cli"
	"github.com/Veraticus/spice-suggest/internal/common"
	"github.com/Veraticus/spice-suggest/internal/model"
	"github.com/Veraticus/spice-suggest/internal/ofx"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.ofx>...",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import transactions from OFX or QFX files exported from your bank. Files
may be globs. Re-importing a statement skips transactions already stored.

Examples:
  spice import ~/Downloads/chase_jan_2024.qfx
  spice import --tenant household ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("tenant", "default", "tenant the transactions belong to")
	cmd.Flags().BoolP("dry-run", "d", false, "parse without saving")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var files []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to import")
	}

	reader := ofx.NewReader(tenant)
	seen := make(map[string]bool)
	var txns []model.Transaction

	for _, path := range files {
		stmt, err := readStatement(cmd, reader, path)
		if err != nil {
			common.LogError(err, "Failed to read OFX file", common.Fields{"file": path})
			continue
		}

		added := 0
		for _, txn := range stmt.Transactions {
			if seen[txn.Hash] {
				continue
			}
			seen[txn.Hash] = true
			txns = append(txns, txn)
			added++
		}
		common.LogInfo("Processed file", common.Fields{
			"file":               filepath.Base(path),
			"accounts":           len(stmt.Accounts),
			"transactions_found": len(stmt.Transactions),
			"added":              added,
		})
	}

	out := cmd.OutOrStdout()
	if dryRun {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("dry run: %d transactions parsed, nothing saved", len(txns))))
		return nil
	}
	if len(txns) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("no transactions found"))
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveTransactions(cmd.Context(), txns); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("imported %d transactions from %d files", len(txns), len(files))))
	return nil
}

func readStatement(cmd *cobra.Command, reader *ofx.Reader, path string) (*ofx.Statement, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied import path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return reader.Read(cmd.Context(), f)
}
