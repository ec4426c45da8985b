// Command rowscan pages through the columns of one row on a widerow node.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"widerow/pkg/export"
	"widerow/pkg/family"
	"widerow/pkg/rpc"
	"widerow/pkg/types"
)

type putFlags []types.Column

func (p *putFlags) String() string {
	parts := make([]string, 0, len(*p))
	for _, c := range *p {
		parts = append(parts, string(c.Key)+"="+string(c.Value))
	}
	return strings.Join(parts, ",")
}

func (p *putFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*p = append(*p, types.Column{Key: []byte(k), Value: []byte(val)})
	return nil
}

type options struct {
	addr    string
	row     string
	batch   int
	reverse bool
	start   string
	format  string
	pgDSN   string
	pgTable string
	timeout time.Duration
	puts    putFlags
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rowscan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.addr, "addr", "http://localhost:8080", "node base URL")
	fs.StringVar(&o.row, "row", "", "row key to scan")
	fs.IntVar(&o.batch, "batch", family.DefaultPageSize, "columns per page")
	fs.BoolVar(&o.reverse, "reverse", false, "scan from the last column")
	fs.StringVar(&o.start, "start", "", "resume after this column")
	fs.StringVar(&o.format, "format", export.FormatTSV, "output format: tsv or avro")
	fs.StringVar(&o.pgDSN, "pg-dsn", "", "copy the row into Postgres instead of printing it")
	fs.StringVar(&o.pgTable, "pg-table", "widerow_columns", "Postgres table for -pg-dsn")
	fs.DurationVar(&o.timeout, "timeout", 3*time.Second, "per request timeout")
	fs.Var(&o.puts, "put", "column to write before scanning, key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.row == "" {
		return o, errors.New("-row is required")
	}
	return o, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	o, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "rowscan:", err)
		os.Exit(2)
	}
	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rowscan:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer) error {
	client := rpc.NewClient(o.addr, rpc.WithTimeout(o.timeout))

	if len(o.puts) > 0 {
		if err := client.Update(ctx, o.row, o.puts); err != nil {
			return fmt.Errorf("put: %w", err)
		}
	}

	cf := family.New("remote", client, family.WithPageSize(o.batch))
	eo := family.EachOptions{BatchSize: o.batch, Reversed: o.reverse}
	if o.start != "" {
		eo.StartBeyond = []byte(o.start)
	}
	seq, err := cf.EachColumn(o.row, eo)
	if err != nil {
		return err
	}

	w, closeSink, err := openSink(ctx, o, out)
	if err != nil {
		return err
	}
	defer closeSink()

	err = seq.Each(ctx, func(key, value []byte) error {
		return w.Write(types.Column{Key: key, Value: value})
	})
	// a partial copy must not replace the stored one
	if a, ok := w.(interface{ Abort() }); ok && err != nil {
		a.Abort()
		return err
	}
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return err
}

func openSink(ctx context.Context, o options, out io.Writer) (export.Writer, func(), error) {
	if o.pgDSN == "" {
		w, err := export.New(o.format, out, o.row)
		return w, func() {}, err
	}

	db, err := sql.Open("postgres", o.pgDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	w, err := export.NewPostgresWriter(ctx, db, o.pgTable, o.row)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return w, func() { _ = db.Close() }, nil
}
