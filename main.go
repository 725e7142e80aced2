// run-on-server compiles remote-execution call sites into stable id
// references and maintains the id-mappings table that server tooling
// executes.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/rhildred/run-on-server/internal/config"
	"github.com/rhildred/run-on-server/internal/discover"
	"github.com/rhildred/run-on-server/internal/lang"
	"github.com/rhildred/run-on-server/internal/mappings"
	"github.com/rhildred/run-on-server/internal/model"
	"github.com/rhildred/run-on-server/internal/transform"
)

var version = "dev"

const (
	defaultMaxFileSize = 1_000_000 // 1 MB
	defaultConfigPath  = "run-on-server.yaml"
	defaultOutDir      = "dist"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "watch":
			return runWatch(args[1:], stdout, stderr)
		case "init":
			return runInit(args[1:], stdout, stderr)
		}
	}

	fs := flag.NewFlagSet("run-on-server", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var bf buildFlags
	addBuildFlags(fs, &bf)

	var (
		useStdin    bool
		loader      string
		dryRun      bool
		showVersion bool
	)
	fs.BoolVar(&useStdin, "stdin", false, "read one source file from stdin and write the result to stdout")
	fs.StringVar(&loader, "loader", "js", "language for -stdin input (js, jsx, mjs, cjs, ts, mts, cts, tsx)")
	fs.BoolVar(&dryRun, "dry-run", false, "report what would be rewritten without writing any output")
	fs.BoolVar(&showVersion, "V", false, "show version and exit")
	fs.BoolVar(&showVersion, "version", false, "show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: run-on-server [flags] [path]
       run-on-server watch [flags] [path]
       run-on-server init [flags] [path]

Compile the file or directory at path (default "."). Directories are
mirrored into the output directory; a single file is written to stdout.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(reorderArgs(args)); err != nil {
		return err
	}

	if showVersion {
		_, _ = fmt.Fprintf(stdout, "run-on-server %s\n", version)
		return nil
	}

	b, err := newBuild(fs, &bf, stderr)
	if err != nil {
		return err
	}

	if useStdin {
		return b.runStdin(loader, stdin, stdout, dryRun)
	}

	root := "."
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		return b.runFile(root, stdout, dryRun)
	}
	return b.runDir(root, dryRun)
}

// buildFlags are the flags shared by the compile and watch commands.
type buildFlags struct {
	outDir       string
	mappingsOut  string
	clientModule string
	configPath   string
	idMappings   bool
	evalRequire  bool
	maxFileSize  int
	logLevel     string
	logFormat    string
}

func addBuildFlags(fs *flag.FlagSet, bf *buildFlags) {
	fs.StringVar(&bf.outDir, "o", defaultOutDir, "output directory for rewritten sources")
	fs.StringVar(&bf.outDir, "out-dir", defaultOutDir, "output directory for rewritten sources")
	fs.StringVar(&bf.mappingsOut, "mappings-out", model.DefaultOutputPath, "mapping table file")
	fs.StringVar(&bf.clientModule, "client-module", model.DefaultClientModule, "import path that provides the client factory")
	fs.StringVar(&bf.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&bf.idMappings, "id-mappings", true, "rewrite fragments to id references and maintain the mapping table")
	fs.BoolVar(&bf.evalRequire, "eval-require", false, "indirect require calls inside fragments through eval")
	fs.IntVar(&bf.maxFileSize, "max-file-size", defaultMaxFileSize, "copy files larger than this many bytes through unparsed")
	fs.StringVar(&bf.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&bf.logFormat, "log-format", "text", "log format (text, json)")
}

// build carries one resolved invocation: compile options, output locations,
// and the logger.
type build struct {
	opts        model.CompileOptions
	outDir      string
	maxFileSize int
	exclude     *ignore.GitIgnore
	log         *slog.Logger
}

func newBuild(fs *flag.FlagSet, bf *buildFlags, stderr io.Writer) (*build, error) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(bf.configPath, set["config"])
	if err != nil {
		return nil, err
	}

	opts, outDir, maxSize := mergeOptions(bf, set, cfg)

	var exclude *ignore.GitIgnore
	if cfg != nil && len(cfg.Exclude) > 0 {
		exclude = ignore.CompileIgnoreLines(cfg.Exclude...)
	}

	logger, err := newLogger(bf.logLevel, bf.logFormat, stderr)
	if err != nil {
		return nil, err
	}

	return &build{
		opts:        opts,
		outDir:      outDir,
		maxFileSize: maxSize,
		exclude:     exclude,
		log:         logger,
	}, nil
}

// loadConfig reads the config file. The default path is optional; a path the
// user named explicitly must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// mergeOptions resolves the effective settings: explicit flags win over the
// config file, which wins over built-in defaults.
func mergeOptions(bf *buildFlags, set map[string]bool, cfg *config.Config) (model.CompileOptions, string, int) {
	opts := model.CompileOptions{
		EvalRequire:  model.EvalRequireOptions{Enabled: bf.evalRequire},
		IDMappings:   model.IDMappingsOptions{Enabled: bf.idMappings, OutputPath: bf.mappingsOut},
		ClientModule: bf.clientModule,
	}
	outDir := bf.outDir
	maxSize := bf.maxFileSize

	if cfg == nil {
		return opts, outDir, maxSize
	}

	if cfg.EvalRequire != nil && !set["eval-require"] {
		opts.EvalRequire.Enabled = *cfg.EvalRequire
	}
	if cfg.IDMappings.Enabled != nil && !set["id-mappings"] {
		opts.IDMappings.Enabled = *cfg.IDMappings.Enabled
	}
	if cfg.IDMappings.OutputPath != "" && !set["mappings-out"] {
		opts.IDMappings.OutputPath = cfg.IDMappings.OutputPath
	}
	if cfg.ClientModule != "" && !set["client-module"] {
		opts.ClientModule = cfg.ClientModule
	}
	if cfg.OutDir != "" && !set["o"] && !set["out-dir"] {
		outDir = cfg.OutDir
	}
	if cfg.MaxFileSize > 0 && !set["max-file-size"] {
		maxSize = cfg.MaxFileSize
	}
	return opts, outDir, maxSize
}

// newLogger builds the CLI logger.
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func (b *build) tablePath() string {
	if p := b.opts.IDMappings.OutputPath; p != "" {
		return p
	}
	return model.DefaultOutputPath
}

// loadTable opens the mapping table when id mappings are enabled. An absent
// table starts empty; an unparsable one aborts the build.
func (b *build) loadTable() (*mappings.Manager, error) {
	if !b.opts.IDMappings.Enabled {
		return nil, nil
	}
	return mappings.Load(b.tablePath())
}

// skipPaths returns the root-relative paths of the tool's own outputs, which
// must never be compiled (or watched) as inputs.
func (b *build) skipPaths(root string) map[string]struct{} {
	skip := make(map[string]struct{})
	for _, p := range []string{b.outDir, b.tablePath()} {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		skip[rel] = struct{}{}
	}
	return skip
}

func (b *build) discoverRoot(root string) ([]discover.FileEntry, error) {
	files, err := discover.Files(root, b.skipPaths(root), b.exclude)
	if err != nil {
		return nil, fmt.Errorf("discovering files: %w", err)
	}
	return files, nil
}

// runDir compiles every discovered file under root into the output
// directory and persists the mapping table once at the end.
func (b *build) runDir(root string, dryRun bool) error {
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

	return b.compile(root, files, table, dryRun)
}

// runFile compiles one file to stdout.
func (b *build) runFile(path string, stdout io.Writer, dryRun bool) error {
	langName := lang.ForExtension(filepath.Ext(path))
	if langName == "" {
		return fmt.Errorf("%s: unsupported file type", path)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if b.maxFileSize > 0 && len(source) > b.maxFileSize {
		b.log.Warn("copying oversized file through unparsed", "path", path, "bytes", len(source))
		if dryRun {
			b.summary(1, 0, 0, nil, true)
			return nil
		}
		if _, err := stdout.Write(source); err != nil {
			return err
		}
		b.summary(1, 0, 0, nil, false)
		return nil
	}

	table, err := b.loadTable()
	if err != nil {
		return err
	}

	res, err := transform.New(b.opts).File(lang.Languages[langName], source, path)
	if err != nil {
		return err
	}
	if table != nil {
		table.Fold(res.Entries)
	}

	if dryRun {
		b.summary(1, res.Rewritten(), res.Skipped(), table, true)
		return nil
	}

	// Table first, so every id in the emitted source has its entry on disk.
	if table != nil {
		if err := table.Persist(); err != nil {
			return err
		}
	}
	if _, err := stdout.Write(res.Output); err != nil {
		return err
	}
	b.summary(1, res.Rewritten(), res.Skipped(), table, false)
	return nil
}

// runStdin compiles one file from stdin to stdout, persisting the table
// after the file so a host build pipeline can drive the transform per file.
func (b *build) runStdin(loader string, stdin io.Reader, stdout io.Writer, dryRun bool) error {
	langName := lang.ForExtension("." + loader)
	if langName == "" {
		return fmt.Errorf("unsupported loader %q", loader)
	}

	source, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	table, err := b.loadTable()
	if err != nil {
		return err
	}

	res, err := transform.New(b.opts).File(lang.Languages[langName], source, "<stdin>")
	if err != nil {
		return err
	}
	if table != nil {
		table.Fold(res.Entries)
	}

	if dryRun {
		b.summary(1, res.Rewritten(), res.Skipped(), table, true)
		return nil
	}

	if table != nil {
		if err := table.Persist(); err != nil {
			return err
		}
	}
	if _, err := stdout.Write(res.Output); err != nil {
		return err
	}
	b.summary(1, res.Rewritten(), res.Skipped(), table, false)
	return nil
}

// compile transforms files concurrently, writes their outputs, and persists
// the table. Shared by the batch compile and each watch batch.
func (b *build) compile(root string, files []discover.FileEntry, table *mappings.Manager, dryRun bool) error {
	results := b.transformConcurrent(root, files, table)

	// Table first, so every id in the emitted sources has its entry on disk.
	if table != nil && !dryRun {
		if err := table.Persist(); err != nil {
			return err
		}
	}

	rewritten, skipped := 0, 0
	for i, f := range files {
		res := results[i]
		if res == nil {
			continue
		}
		rewritten += res.Rewritten()
		skipped += res.Skipped()
		for _, s := range res.Sites {
			b.log.Debug("call site", "file", f.Path, "line", s.Line, "callee", s.Callee, "outcome", string(s.Outcome))
		}
		if dryRun {
			continue
		}
		if err := writeOutput(filepath.Join(b.outDir, f.Path), res.Output); err != nil {
			return err
		}
	}

	b.summary(len(files), rewritten, skipped, table, dryRun)
	return nil
}

// transformConcurrent runs the per-file transform across a worker pool. Each
// worker owns its Transformer (tree-sitter parsers are not thread-safe) and
// folds its batches into the shared table, which serializes them through its
// mutex.
func (b *build) transformConcurrent(root string, files []discover.FileEntry, table *mappings.Manager) []*transform.Result {
	type result struct {
		index int
		res   *transform.Result
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	out := make(chan result, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tr := transform.New(b.opts)

			for idx := range work {
				f := files[idx]
				source, err := os.ReadFile(filepath.Join(root, f.Path))
				if err != nil {
					b.log.Warn("skipping unreadable file", "path", f.Path, "err", err)
					continue
				}

				if b.maxFileSize > 0 && len(source) > b.maxFileSize {
					b.log.Warn("copying oversized file through unparsed", "path", f.Path, "bytes", len(source))
					out <- result{index: idx, res: &transform.Result{Output: source}}
					continue
				}

				res, err := tr.File(lang.Languages[f.Language], source, f.Path)
				if err != nil {
					b.log.Warn("skipping file", "path", f.Path, "err", err)
					continue
				}
				if table != nil {
					table.Fold(res.Entries)
				}
				out <- result{index: idx, res: res}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]*transform.Result, len(files))
	for r := range out {
		results[r.index] = r.res
	}
	return results
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (b *build) summary(files, rewritten, skipped int, table *mappings.Manager, dryRun bool) {
	args := []any{"files", files, "rewritten", rewritten, "skipped", skipped}
	if table != nil {
		args = append(args, "new_mappings", table.Added(), "table_total", table.Len())
	}
	if dryRun {
		b.log.Info("dry run complete", args...)
		return
	}
	b.log.Info("compile complete", args...)
}

// flagsWithValue lists flags that take a value argument.
var flagsWithValue = map[string]bool{
	"-o": true, "--o": true,
	"-out-dir": true, "--out-dir": true,
	"-mappings-out": true, "--mappings-out": true,
	"-client-module": true, "--client-module": true,
	"-config": true, "--config": true,
	"-loader": true, "--loader": true,
	"-max-file-size": true, "--max-file-size": true,
	"-log-level": true, "--log-level": true,
	"-log-format": true, "--log-format": true,
	"-debounce": true, "--debounce": true,
}

// reorderArgs moves positional arguments after all flags so Go's flag package
// can parse them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if len(args[i]) > 0 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if flagsWithValue[args[i]] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
