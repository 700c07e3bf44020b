package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/maruel/csvtable/internal/compress"
	"github.com/maruel/csvtable/internal/config"
	"github.com/maruel/csvtable/internal/crdt"
	"github.com/maruel/csvtable/internal/csvsource"
	"github.com/maruel/csvtable/internal/storage"
	"github.com/maruel/csvtable/internal/table"
)

var headerColor = color.New(color.FgCyan, color.Bold)

// runner imports one CSV file into a document, possibly many times.
type runner struct {
	cfg     *config.Config
	path    string
	w       io.Writer
	compact bool
	dump    bool

	doc   *crdt.Doc
	root  *crdt.MapRef
	tbl   *table.Table
	store *storage.FileStore
	codec compress.Codec
	ids   *rand.Rand
}

// init creates the document, replaying the update log when one is configured.
func (r *runner) init(ctx context.Context) error {
	var opts []crdt.Option
	if r.cfg.Seed != 0 {
		opts = append(opts, crdt.WithRand(rand.New(rand.NewPCG(r.cfg.Seed, 0))))
		r.ids = rand.New(rand.NewPCG(r.cfg.Seed, 1))
	}
	if r.cfg.StoreDir != "" {
		var err error
		if r.store, err = storage.NewFileStore(r.cfg.StoreDir); err != nil {
			return err
		}
		// Reopen the document the log belongs to.
		guid, err := r.store.GUID()
		if err != nil {
			return err
		}
		if guid != "" {
			opts = append(opts, crdt.WithGUID(guid))
		}
	}
	r.doc = crdt.New(opts...)
	if r.store != nil {
		n, err := r.store.Load(ctx, r.doc)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Loaded update log", "dir", r.cfg.StoreDir, "guid", r.doc.GUID(), "updates", n)
	} else if r.compact {
		slog.WarnContext(ctx, "Ignoring -compact without a store")
	}
	r.root = r.doc.GetOrInsertMap(r.cfg.Table)
	var err error
	r.codec, err = compress.ByName(r.cfg.Codec, r.cfg.Level)
	return err
}

// run imports the file then prints the size report and the preview.
func (r *runner) run(ctx context.Context) error {
	if err := r.importFile(ctx); err != nil {
		return err
	}
	txn := r.doc.ReadTxn()
	if err := r.report(ctx, txn); err != nil {
		return err
	}
	if err := r.preview(txn); err != nil {
		return err
	}
	if r.dump {
		cfg := spew.ConfigState{Indent: "  ", SortKeys: true}
		cfg.Fdump(r.w, r.root.ToAny(txn))
	}
	return nil
}

func (r *runner) importFile(ctx context.Context) (err error) {
	src, err := csvsource.Open(r.path, csvsource.Options{Comma: r.cfg.Comma()})
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer func() {
		err = errors.Join(err, src.Close())
	}()
	opts := []table.Option{
		table.WithValidation(r.cfg.Validation),
		table.WithColumnWidth(r.cfg.ColumnWidth),
		table.WithRowHeight(r.cfg.RowHeight),
	}
	if r.ids != nil {
		opts = append(opts, table.WithRand(r.ids))
	}

	sv := r.doc.ReadTxn().StateVector()
	start := time.Now()
	var n uint32
	err = r.doc.Transact(ctx, func(txn *crdt.TxnMut) error {
		tbl, err := table.New(txn, r.root, opts...)
		if err != nil {
			return err
		}
		if n, err = tbl.Import(txn, src); err != nil {
			return err
		}
		r.tbl = tbl
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", r.path, err)
	}
	elapsed := time.Since(start)
	slog.InfoContext(ctx, "Imported", "path", r.path, "cells", n, "duration", elapsed)
	if _, err := fmt.Fprintf(r.w, "imported %d cells in %s\n", n, elapsed.Round(time.Microsecond)); err != nil {
		return err
	}

	if r.store != nil {
		id, err := r.store.Append(r.doc.ReadTxn().EncodeStateAsUpdate(sv))
		if err != nil {
			return err
		}
		slog.DebugContext(ctx, "Saved update", "id", id)
		if r.compact {
			if err := r.store.Compact(ctx, r.doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// report prints the size of the encoded document, raw and compressed, and how
// long each step took, next to the size of the input file.
func (r *runner) report(ctx context.Context, txn *crdt.Txn) error {
	start := time.Now()
	update := txn.EncodeStateAsUpdate(nil)
	encoded := time.Since(start)
	results, err := compress.Report(ctx, update, r.codec)
	if err != nil {
		return err
	}
	fi, err := os.Stat(r.path)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "encoded update: %d bytes in %s\n", len(update), encoded.Round(time.Microsecond))
	for i := range results {
		res := &results[i]
		fmt.Fprintf(r.w, "%s: %d bytes (%.1f%%) in %s\n", res.Codec, res.Size, 100*res.Ratio(len(update)), res.Duration.Round(time.Microsecond))
	}
	_, err = fmt.Fprintf(r.w, "input file: %d bytes\n", fi.Size())
	return err
}

// preview prints the column names then the first rows, tab separated.
func (r *runner) preview(txn crdt.ReadTxn) error {
	cols, err := r.tbl.Columns(txn)
	if err != nil {
		return err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if _, err := headerColor.Fprintln(r.w, strings.Join(names, "\t")); err != nil {
		return err
	}
	rows, err := r.tbl.Rows(txn)
	if err != nil {
		return err
	}
	printed := 0
	for row, err := range rows.All() {
		if err != nil {
			return err
		}
		if printed >= r.cfg.PreviewRows {
			break
		}
		cells, err := row.Cells()
		if err != nil {
			return err
		}
		fields := make([]string, len(cells))
		for i, c := range cells {
			if c.Present {
				fields[i] = c.Value.String()
			}
		}
		if _, err := fmt.Fprintln(r.w, strings.Join(fields, "\t")); err != nil {
			return err
		}
		printed++
	}
	return nil
}

// startWatch returns a watcher on the directory of the input file. Watching
// the directory catches editors that replace the file.
func (r *runner) startWatch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watch imports the file again after every change until ctx is canceled.
func (r *runner) watch(ctx context.Context) error {
	w, err := r.startWatch()
	if err != nil {
		return err
	}
	return r.watchLoop(ctx, w)
}

func (r *runner) watchLoop(ctx context.Context, w *fsnotify.Watcher) error {
	defer func() { _ = w.Close() }()
	target := filepath.Clean(r.path)
	slog.InfoContext(ctx, "Watching", "path", target)
	// Editors often emit several events per save; wait for them to settle.
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == target && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				settle = time.After(100 * time.Millisecond)
			}
		case <-settle:
			settle = nil
			if err := r.run(ctx); err != nil {
				slog.WarnContext(ctx, "Import failed", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching input", "err", err)
		}
	}
}
