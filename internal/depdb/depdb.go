// Package depdb implements the per-target dependency database: an
// append-only, line-oriented journal of prerequisite fingerprints and
// module maps, with the expect/write/read/skip/touch discipline from
// spec.md §4.2.
package depdb

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mbld/bld/internal/fsutil"
)

// ModuleMapPrefix marks a module-map line ("@ <name> <path>").
const ModuleMapPrefix = "@ "

// DB is the dependency database for a single target. It is opened for
// validation (read existing lines, expecting them to match) or for
// writing (once a mismatch is found, every subsequent line is appended
// fresh). Per spec.md invariant: after Close, the file is either fully
// revalidated (mtime left untouched, or touched) or fully rewritten —
// never partially rewritten.
type DB struct {
	path string
	fs   fsutil.FS

	cached  []string // lines read from the existing file at Open time
	pos     int      // read cursor into cached
	writing bool      // once true, every subsequent op appends
	out     []string // lines to write, once writing
	touched bool      // Touch was called and nothing was rewritten
}

// Open opens (or creates) the dep-db file at path for a round of
// validate-then-possibly-rewrite.
func Open(fs fsutil.FS, path string) (*DB, error) {
	db := &DB{path: path, fs: fs}
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			db.writing = true
			return db, nil
		}
		return nil, errors.Wrapf(err, "reading dep-db %s", path)
	}
	text := string(data)
	if text != "" {
		db.cached = strings.Split(strings.TrimRight(text, "\n"), "\n")
	}
	return db, nil
}

// Expect compares the next cached line to line; if equal, the read cursor
// advances and no rewrite is triggered. If different (or EOF), the db
// switches to writing mode and every line from this point on, including
// this one, is appended fresh — the suffix from here on is truncated.
func (db *DB) Expect(line string) {
	if !db.writing {
		if db.pos < len(db.cached) && db.cached[db.pos] == line {
			db.pos++
			return
		}
		db.writing = true
		db.out = append(db.out, db.cached[:db.pos]...)
	}
	db.out = append(db.out, line)
}

// Write appends a line unconditionally and forces writing mode — used when
// the caller already knows the entry is new (e.g. the final module-info
// line of a first build).
func (db *DB) Write(line string) {
	db.writing = true
	db.out = append(db.out, line)
}

// Read returns the next cached line, or "", false at EOF or once the db
// has switched to writing mode (there is nothing left to validate).
func (db *DB) Read() (string, bool) {
	if db.writing || db.pos >= len(db.cached) {
		return "", false
	}
	line := db.cached[db.pos]
	db.pos++
	return line, true
}

// Skip advances the read cursor by one cached line without comparing it,
// used when only revalidating a line whose content isn't independently
// recomputed (e.g. a module-map line carried forward unchanged).
func (db *DB) Skip() {
	if !db.writing && db.pos < len(db.cached) {
		db.pos++
	}
}

// Touch marks that the db was fully revalidated — no content changed —
// so Close should only refresh the mtime, not rewrite the file.
func (db *DB) Touch() {
	if !db.writing {
		db.touched = true
	}
}

// Rewriting reports whether any mismatch has forced a rewrite this round.
func (db *DB) Rewriting() bool { return db.writing }

// Close finalizes the round: if writing, the accumulated lines (plus
// anything already validated before the mismatch) are written out fresh;
// otherwise, if Touch was called, only the mtime is refreshed.
func (db *DB) Close() error {
	if err := db.fs.MkdirAll(filepath.Dir(db.path), 0o755); err != nil {
		return errors.Wrapf(err, "creating dep-db directory for %s", db.path)
	}
	if db.writing {
		content := strings.Join(db.out, "\n")
		if len(db.out) > 0 {
			content += "\n"
		}
		if err := db.fs.WriteFile(db.path, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "writing dep-db %s", db.path)
		}
		return nil
	}
	if db.touched {
		now := time.Now()
		if err := db.fs.Chtimes(db.path, now, now); err != nil {
			return errors.Wrapf(err, "touching dep-db %s", db.path)
		}
	}
	return nil
}

// CheckMtime asserts the db's mtime is no newer than the target's, per the
// invariant in spec.md §4.1/§8. It is a defensive check meant to be called
// right after a successful update; a violation indicates a logic bug in
// the caller's ordering of target-write then db-close.
func CheckMtime(fs fsutil.FS, dbPath, targetPath string) error {
	dbTime := fsutil.Mtime(fs, dbPath)
	targetTime := fsutil.Mtime(fs, targetPath)
	if dbTime.After(targetTime) {
		return errors.Errorf("dep-db %s (mtime %s) is newer than target %s (mtime %s)",
			dbPath, dbTime, targetPath, targetTime)
	}
	return nil
}

// PathFor returns the conventional dep-db file name for a target
// (<target>.d).
func PathFor(targetPath string) string {
	return targetPath + ".d"
}

// ModuleMapLine formats a module-map/header-unit mapping entry.
func ModuleMapLine(name, path string) string {
	return ModuleMapPrefix + name + " " + path
}

// ParseModuleMapLine parses a "@ <name> <path>" line. ok is false if line
// isn't a module-map line.
func ParseModuleMapLine(line string) (name, path string, ok bool) {
	if !strings.HasPrefix(line, ModuleMapPrefix) {
		return "", "", false
	}
	rest := line[len(ModuleMapPrefix):]
	name, path, found := strings.Cut(rest, " ")
	if !found {
		return "", "", false
	}
	return name, path, true
}

// scanLines is a small helper retained for callers that want to stream a
// dep-db file without loading it through Open (e.g. diagnostics dumping).
func scanLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
