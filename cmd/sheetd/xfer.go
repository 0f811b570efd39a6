package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/store"
	"github.com/lijuchacko/sheetsync/internal/xlsx"
)

func init() {
	for _, c := range []*cobra.Command{exportCmd, importCmd} {
		c.Flags().String("store", "", "Store kind: sqlite or json")
		c.Flags().String("store-path", "", "SQLite file or JSON directory")
		rootCmd.AddCommand(c)
	}
	importCmd.Flags().StringP("user", "u", "", "User name recorded on imported cells")
}

var exportCmd = &cobra.Command{
	Use:   "export SHEET FILE.xlsx",
	Short: "Write a stored sheet to an xlsx workbook",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		return exportSheet(cmd.Context(), st, args[0], args[1])
	},
}

var importCmd = &cobra.Command{
	Use:   "import SHEET FILE.xlsx",
	Short: "Load the first worksheet of an xlsx workbook into a stored sheet",
	Long: `Load the first worksheet of an xlsx workbook into a stored sheet. The sheet
is created with the configured default size if it does not exist. Imported
cells are stamped now and win over older edits.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideString(cmd, "user", &cfg.User)
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		n, err := importSheet(cmd.Context(), st, args[0], args[1], time.Now().UTC())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d cells into %s\n", n, args[0])
		return nil
	},
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	overrideString(cmd, "store", &cfg.StoreKind)
	overrideString(cmd, "store-path", &cfg.StorePath)
	if cfg.StoreKind == "memory" {
		return nil, errors.New("export and import need a persistent store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return store.Open(cfg.StoreKind, cfg.StorePath)
}

func exportSheet(ctx context.Context, st store.Store, id, path string) error {
	meta, err := st.GetSheet(ctx, id)
	if err != nil {
		return err
	}
	rows, err := st.FetchAll(ctx, id)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := xlsx.Export(f, meta, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// importSheet upserts every cell of the workbook and returns how many the
// store accepted.
func importSheet(ctx context.Context, st store.Store, id, path string, at time.Time) (int, error) {
	meta, err := st.EnsureSheet(ctx, store.SheetMeta{
		ID:        id,
		Title:     id,
		Rows:      cfg.DefaultRows,
		Cols:      cfg.DefaultCols,
		Owner:     cfg.User,
		CreatedAt: at,
		UpdatedAt: at,
	})
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	rows, err := xlsx.Import(f, meta, at, cfg.User)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		_, applied, err := st.Upsert(ctx, row)
		if err != nil {
			return n, err
		}
		if applied {
			n++
		} else {
			alog.Debugf(ctx, "sheetd: import %s %s: newer edit kept", id, row.Addr())
		}
	}
	return n, nil
}
