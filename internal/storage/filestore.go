// Package storage persists document updates as a log of compressed files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/csvtable/internal/compress"
	"github.com/maruel/csvtable/internal/crdt"
	"github.com/maruel/ksid"
)

// updateExt is the suffix of every update file.
const updateExt = ".update.zst"

// guidFile holds the GUID of the document the log belongs to.
const guidFile = "doc.guid"

// ErrGUIDMismatch is returned when a document is used with the log of another
// document.
var ErrGUIDMismatch = errors.New("document GUID does not match the store")

// FileStore is a directory of document updates. Each update is one zstd
// compressed file named after a time sortable id, so replaying the files in
// id order rebuilds the document.
type FileStore struct {
	rootDir string
	codec   compress.Codec
}

// NewFileStore initializes a FileStore in rootDir, creating the directory if
// needed.
func NewFileStore(rootDir string) (*FileStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{rootDir: rootDir, codec: compress.NewZstd(compress.DefaultZstdLevel)}, nil
}

// RootDir returns the directory holding the updates.
func (fs *FileStore) RootDir() string {
	return fs.rootDir
}

// Append writes update as a new file and returns its id.
func (fs *FileStore) Append(update []byte) (ksid.ID, error) {
	data, err := fs.codec.Compress(update)
	if err != nil {
		return 0, err
	}
	id := ksid.NewID()
	path := fs.updatePath(id)
	// Write then rename so a crash never leaves a truncated update behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write update: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, errors.Join(fmt.Errorf("failed to commit update: %w", err), os.Remove(tmp))
	}
	return id, nil
}

// Updates returns the ids of the stored updates, oldest first.
func (fs *FileStore) Updates() ([]ksid.ID, error) {
	entries, err := os.ReadDir(fs.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list updates: %w", err)
	}
	var ids []ksid.ID
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), updateExt)
		if !ok || e.IsDir() {
			continue
		}
		id, err := ksid.Parse(name)
		if err != nil {
			slog.Warn("storage: ignoring file", "name", e.Name(), "err", err)
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// GUID returns the GUID of the document recorded in the store, or an empty
// string when no document has been bound to it yet.
func (fs *FileStore) GUID() (string, error) {
	b, err := os.ReadFile(filepath.Join(fs.rootDir, guidFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read document GUID: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// bind records the GUID of doc on first use and rejects any other document
// afterward.
func (fs *FileStore) bind(doc *crdt.Doc) error {
	guid, err := fs.GUID()
	if err != nil {
		return err
	}
	switch guid {
	case doc.GUID():
		return nil
	case "":
		if err := os.WriteFile(filepath.Join(fs.rootDir, guidFile), []byte(doc.GUID()+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write document GUID: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: store has %s, document is %s", ErrGUIDMismatch, guid, doc.GUID())
	}
}

// Read returns the decompressed update id.
func (fs *FileStore) Read(id ksid.ID) ([]byte, error) {
	data, err := os.ReadFile(fs.updatePath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read update %s: %w", id, err)
	}
	out, err := fs.codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress update %s: %w", id, err)
	}
	return out, nil
}

// Load applies every stored update to doc, oldest first, and returns how
// many were applied. The store is bound to doc's GUID on first use; loading
// it into a document with another GUID fails with ErrGUIDMismatch.
func (fs *FileStore) Load(ctx context.Context, doc *crdt.Doc) (int, error) {
	if err := fs.bind(doc); err != nil {
		return 0, err
	}
	ids, err := fs.Updates()
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		data, err := fs.Read(id)
		if err != nil {
			return i, err
		}
		if err := doc.ApplyUpdate(ctx, data); err != nil {
			return i, fmt.Errorf("failed to apply update %s: %w", id, err)
		}
	}
	slog.DebugContext(ctx, "storage: loaded", "dir", fs.rootDir, "guid", doc.GUID(), "updates", len(ids))
	return len(ids), nil
}

// Compact replaces the whole log by a single update holding the current state
// of doc. doc must contain every stored update.
func (fs *FileStore) Compact(ctx context.Context, doc *crdt.Doc) error {
	if err := fs.bind(doc); err != nil {
		return err
	}
	old, err := fs.Updates()
	if err != nil {
		return err
	}
	if _, err := fs.Append(doc.ReadTxn().EncodeStateAsUpdate(nil)); err != nil {
		return err
	}
	var errs []error
	for _, id := range old {
		if err := os.Remove(fs.updatePath(id)); err != nil {
			errs = append(errs, err)
		}
	}
	slog.DebugContext(ctx, "storage: compacted", "dir", fs.rootDir, "removed", len(old))
	return errors.Join(errs...)
}

func (fs *FileStore) updatePath(id ksid.ID) string {
	return filepath.Join(fs.rootDir, id.String()+updateExt)
}
