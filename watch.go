package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/rhildred/run-on-server/internal/discover"
	"github.com/rhildred/run-on-server/internal/lang"
	"github.com/rhildred/run-on-server/internal/mappings"
)

const watchDebounce = 300 * time.Millisecond

// runWatch implements the `run-on-server watch` subcommand: a full compile
// of the root, then incremental recompiles of files as they change. The
// mapping table is held open for the whole session, so entries from files
// untouched since the last batch are never dropped.
func runWatch(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run-on-server watch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var bf buildFlags
	addBuildFlags(fs, &bf)

	var debounce time.Duration
	fs.DurationVar(&debounce, "debounce", watchDebounce, "how long to batch filesystem events before recompiling")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: run-on-server watch [flags] [path]

Compile every source file under path (default "."), then keep watching and
recompile files as they change. Each batch folds its fragments into the
mapping table and persists it.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return err
	}

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", root)
	}

	b, err := newBuild(fs, &bf, stderr)
	if err != nil {
		return err
	}

	files, err := b.discoverRoot(root)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no compilable files found")
	}

	table, err := b.loadTable()
	if err != nil {
		return err
	}
	if err := b.compile(root, files, table, false); err != nil {
		return err
	}

	return b.watch(root, table, debounce)
}

// watch recompiles changed files until interrupted.
func (b *build) watch(root string, table *mappings.Manager, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	skip := b.skipPaths(root)
	b.addWatchDirs(watcher, root, root, skip)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	b.log.Info("watching", "root", root)

	// Events are debounced per file: a file recompiles once its last event
	// is older than the debounce window. Editors that write in bursts
	// produce one recompile, not five.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					b.addWatchDirs(watcher, root, ev.Name, skip)
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if rel, ok := watchableFile(root, skip, b.exclude, ev.Name); ok {
				pending[rel] = time.Now()
			}
		case now := <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			var batch []string
			for rel, at := range pending {
				if now.Sub(at) >= debounce {
					batch = append(batch, rel)
					delete(pending, rel)
				}
			}
			if len(batch) > 0 {
				sort.Strings(batch)
				b.recompile(root, batch, table)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.log.Warn("watch error", "err", err)
		case <-sig:
			b.log.Info("stopping")
			return nil
		}
	}
}

// addWatchDirs registers dir and every non-skipped directory under it.
// Best effort: a directory that cannot be watched is logged and skipped.
func (b *build) addWatchDirs(w *fsnotify.Watcher, root, dir string, skip map[string]struct{}) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root {
			if discover.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			if rel, err := filepath.Rel(root, path); err == nil {
				if _, ok := skip[rel]; ok {
					return filepath.SkipDir
				}
			}
		}
		if err := w.Add(path); err != nil {
			b.log.Warn("cannot watch directory", "path", path, "err", err)
		}
		return nil
	})
}

// watchableFile reports whether an event path is a compilable source file,
// as the root-relative path. The tool's own outputs are filtered here so
// that persisting the table does not retrigger the watcher.
func watchableFile(root string, skip map[string]struct{}, exclude *ignore.GitIgnore, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	for p := range skip {
		if rel == p || strings.HasPrefix(rel, p+string(filepath.Separator)) {
			return "", false
		}
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return "", false
	}
	if exclude != nil && exclude.MatchesPath(rel) {
		return "", false
	}
	if lang.ForExtension(filepath.Ext(rel)) == "" {
		return "", false
	}
	return rel, true
}

// recompile runs one incremental batch. Errors are logged rather than
// returned so a bad batch does not kill the watch session.
func (b *build) recompile(root string, paths []string, table *mappings.Manager) {
	var files []discover.FileEntry
	for _, rel := range paths {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			continue // deleted between the event and the batch
		}
		files = append(files, discover.FileEntry{
			Path:     rel,
			Language: lang.ForExtension(filepath.Ext(rel)),
		})
	}
	if len(files) == 0 {
		return
	}

	if err := b.compile(root, files, table, false); err != nil {
		b.log.Error("recompile failed", "err", err)
	}
}
