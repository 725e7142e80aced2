package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// starterConfig is the configuration written by `run-on-server init`. Every
// setting is spelled out at its default so the file documents itself.
const starterConfig = `# run-on-server build configuration. Explicit flags override these settings.
client_module: run-on-server/client
out_dir: dist
eval_require: false
id_mappings:
  enabled: true
  output_path: id-mappings.js
# Patterns (gitignore syntax) excluded from compilation, e.g. "**/*.test.js".
exclude: []
`

// runInit implements the `run-on-server init` subcommand, which writes a
// starter config file.
func runInit(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run-on-server init", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var dryRun, force bool
	fs.BoolVar(&dryRun, "dry-run", false, "print the config without writing the file")
	fs.BoolVar(&force, "force", false, "overwrite an existing config file")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: run-on-server init [flags] [path]

Write a starter configuration file. path defaults to ./run-on-server.yaml.
Refuses to overwrite an existing file unless -force is given.

Flags:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if dryRun {
		_, _ = fmt.Fprint(stdout, starterConfig)
		return nil
	}

	path := defaultConfigPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	_, _ = fmt.Fprintf(stderr, "wrote %s\n", path)
	return nil
}
