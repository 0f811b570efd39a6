package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/collab"
	"github.com/lijuchacko/sheetsync/internal/depgraph"
	"github.com/lijuchacko/sheetsync/internal/remote"
	"github.com/lijuchacko/sheetsync/internal/sheet"
	"github.com/lijuchacko/sheetsync/internal/store"
)

func init() {
	editCmd.Flags().String("server", "", "Hub websocket URL")
	editCmd.Flags().StringP("user", "u", "", "User name recorded on edits")
	editCmd.Flags().String("key", "", "Hub access key")
	rootCmd.AddCommand(editCmd)
}

var editCmd = &cobra.Command{
	Use:   "edit SHEET",
	Short: "Edit a sheet interactively",
	Long: `Edit a sheet interactively. Commands:

  A1 = text    set a cell (text starting with = is a formula; empty clears)
  A1           show a cell's value
  raw A1       show a cell's input text
  grid         print the used area
  state        show the connection state
  who          list other editors and their selected cells
  rename TITLE rename the sheet
  quit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideString(cmd, "server", &cfg.ServerURL)
		overrideString(cmd, "user", &cfg.User)
		overrideString(cmd, "key", &cfg.AccessKey)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		d := &remote.Dialer{URL: cfg.ServerURL, User: cfg.User, AccessKey: cfg.AccessKey, Bounds: cfg.Bounds()}
		// The control connection learns the sheet size and carries renames.
		ctl, err := d.Dial(ctx, args[0])
		if err != nil {
			return err
		}
		defer ctl.Close()

		sh, err := sheet.New(args[0], ctl.Meta().Bounds())
		if err != nil {
			return err
		}
		s := collab.New(sh, d, collab.WithUser(cfg.User))
		s.Start(ctx)
		defer s.Close()

		r := &repl{session: s, rename: ctl.Rename, title: func() string { return ctl.Meta().Title }, out: cmd.OutOrStdout()}
		fmt.Fprintf(r.out, "editing %q (%dx%d) as %s\n", ctl.Meta().Title, sh.Bounds().Rows, sh.Bounds().Cols, cfg.User)
		return r.run(ctx, cmd.InOrStdin())
	},
}

type repl struct {
	session *collab.Session
	rename  func(context.Context, string) (store.SheetMeta, error)
	title   func() string
	out     io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		quit, err := r.exec(ctx, sc.Text())
		if err != nil {
			fmt.Fprintln(r.out, "error:", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one command line and reports whether the client should exit.
func (r *repl) exec(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(verb) {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "state":
		fmt.Fprintf(r.out, "%s, %d pending\n", r.session.State(), r.session.Pending())
		if err := r.session.LastError(); err != nil {
			fmt.Fprintln(r.out, "last error:", err)
		}
		return false, nil
	case "grid":
		return false, r.grid()
	case "who":
		peers := r.session.Collaborators()
		if len(peers) == 0 {
			fmt.Fprintln(r.out, "nobody else is here")
		}
		for _, p := range peers {
			fmt.Fprintf(r.out, "%s at %s\n", p.User, p.Addr)
		}
		return false, nil
	case "raw":
		addr, err := cell.ParseAddress(strings.TrimSpace(rest))
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, r.session.SelectedCellChanged(addr))
		return false, nil
	case "rename":
		title := strings.TrimSpace(rest)
		if title == "" {
			return false, errors.New("rename needs a title")
		}
		meta, err := r.rename(ctx, title)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "renamed to %q\n", meta.Title)
		return false, nil
	}

	target, text, isSet := strings.Cut(line, "=")
	addr, err := cell.ParseAddress(strings.TrimSpace(target))
	if err != nil {
		return false, fmt.Errorf("unknown command %q", line)
	}
	if !isSet {
		fmt.Fprintln(r.out, r.session.GetDisplayValue(addr))
		return false, nil
	}
	err = r.session.SubmitEdit(addr, strings.TrimSpace(text))
	var cycle *depgraph.CycleError
	if err != nil && !errors.As(err, &cycle) {
		return false, err
	}
	fmt.Fprintf(r.out, "%s: %s\n", addr, r.session.GetDisplayValue(addr))
	return false, err
}

// grid prints the smallest block holding every non-blank cell.
func (r *repl) grid() error {
	cells := r.session.Sheet().Cells()
	if len(cells) == 0 {
		fmt.Fprintf(r.out, "%s is empty\n", r.title())
		return nil
	}
	rows, cols := 0, 0
	for _, c := range cells {
		rows = max(rows, c.Addr.Row+1)
		cols = max(cols, c.Addr.Col+1)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	header := []string{""}
	for c := range cols {
		name, err := cell.ColumnName(c)
		if err != nil {
			return err
		}
		header = append(header, name)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for row := range rows {
		line := []string{fmt.Sprint(row + 1)}
		for col := range cols {
			line = append(line, r.session.GetDisplayValue(cell.Address{Row: row, Col: col}))
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	return tw.Flush()
}
