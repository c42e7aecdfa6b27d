package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/esm-dev/assetpipe/internal/codegen"
	"github.com/goccy/go-json"
	"github.com/ije/gox/term"
)

const codegenHelpMessage = `Write the accessor stubs of every entry script and file asset.

Usage: assetpipe codegen [project-dir] [options]

Arguments:
  project-dir  Directory of the project, default is current directory

Options:
  --config     Config file, default is <project-dir>/assetpipe.json
  --dev        Point the stubs at the dev server instead of the last build
  --prune      Remove stale stubs
  --yes, -y    Do not ask before pruning
  --help, -h   Show help message
`

const checkHelpMessage = `Report drift between the codegen directory and the stubs, exit with 1 on drift.

Usage: assetpipe check [project-dir] [options]

Arguments:
  project-dir      Directory of the project, default is current directory

Options:
  --config         Config file, default is <project-dir>/assetpipe.json
  --dev            Check the dev stubs instead of the production ones
  --allow-unknown  Tolerate files that are neither stubs nor build outputs
  --json           Print the report as JSON
  --help, -h       Show help message
`

// Codegen writes the stubs of the project.
func Codegen() {
	configFile := flag.String("config", "", "config file")
	dev := flag.Bool("dev", false, "write the dev stubs")
	prune := flag.Bool("prune", false, "remove stale stubs")
	yes := flag.Bool("yes", false, "do not ask before pruning")
	flag.BoolVar(yes, "y", false, "do not ask before pruning")
	args, help := parseCommandFlags()

	if help {
		fmt.Print(codegenHelpMessage)
		return
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}
	p, logger, err := loadPipeline(*configFile, dir)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer logger.FlushBuffer()

	if *prune && !*yes && isInteractive() {
		report, err := p.Audit(*dev)
		if err == nil && len(report.Stale) > 0 {
			fmt.Println(term.Dim(strings.Join(report.Stale, "\n")))
			if !termConfirm(fmt.Sprintf("Remove %d stale stubs?", len(report.Stale))) {
				*prune = false
			}
		}
	}

	written, pruned, err := p.Codegen(*dev, *prune)
	if err != nil {
		printError(err)
		logger.FlushBuffer()
		os.Exit(1)
	}
	for _, key := range written {
		fmt.Println(term.Dim("  write " + key))
	}
	for _, key := range pruned {
		fmt.Println(term.Dim("  remove " + key))
	}
	fmt.Printf(term.Green("%d stubs written, %d removed\n"), len(written), len(pruned))
}

// Check audits the codegen directory of the project.
func Check() {
	configFile := flag.String("config", "", "config file")
	dev := flag.Bool("dev", false, "check the dev stubs")
	allowUnknown := flag.Bool("allow-unknown", false, "tolerate unknown files")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	args, help := parseCommandFlags()

	if help {
		fmt.Print(checkHelpMessage)
		return
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}
	p, logger, err := loadPipeline(*configFile, dir)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer logger.FlushBuffer()

	report, err := p.Audit(*dev)
	if err != nil {
		printError(err)
		logger.FlushBuffer()
		os.Exit(1)
	}
	if *asJSON {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		printReport(report, *allowUnknown)
	}
	if !report.OK(*allowUnknown) {
		logger.FlushBuffer()
		os.Exit(1)
	}
}

func printReport(report *codegen.Report, allowUnknown bool) {
	groups := []struct {
		name string
		keys []string
	}{
		{"missing", report.Missing},
		{"stale", report.Stale},
		{"outdated", report.Outdated},
		{"unknown", report.Unknown},
	}
	for _, g := range groups {
		for _, key := range g.keys {
			if g.name == "unknown" && allowUnknown {
				fmt.Println(term.Dim("[" + g.name + "] " + key))
			} else {
				fmt.Println(term.Red("["+g.name+"] ") + key)
			}
		}
	}
	if report.OK(allowUnknown) {
		fmt.Println(term.Green("Stubs are up to date"))
	} else {
		fmt.Println(term.Red("Stubs are out of date, run `assetpipe codegen` to update them"))
	}
}
