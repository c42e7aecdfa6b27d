package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ije/gox/term"
)

const buildHelpMessage = `Build the entry scripts and file assets into the output directory.

Usage: assetpipe build [project-dir] [options]

Arguments:
  project-dir  Directory of the project, default is current directory

Options:
  --config     Config file, default is <project-dir>/assetpipe.json
  --strict     Fail on unresolved imports
  --help, -h   Show help message
`

// Build runs a production build of the project.
func Build() {
	configFile := flag.String("config", "", "config file")
	strict := flag.Bool("strict", false, "fail on unresolved imports")
	args, help := parseCommandFlags()

	if help {
		fmt.Print(buildHelpMessage)
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
	if *strict {
		p.Config().Strict = true
	}

	start := time.Now()
	ret, err := p.Build(context.Background())
	if ret != nil {
		for _, w := range ret.Warnings {
			fmt.Println(term.Yellow("[warn] " + w))
		}
		for _, e := range ret.Errors {
			fmt.Println(term.Red("[error] " + e.Error()))
		}
	}
	if err != nil {
		printError(err)
		logger.FlushBuffer()
		os.Exit(1)
	}
	for _, out := range ret.Outputs {
		fmt.Println(term.Dim("  " + out))
	}
	fmt.Printf(term.Green("Built %d files in %s\n"), len(ret.Outputs), time.Since(start).Round(time.Millisecond))
	if len(ret.Errors) > 0 {
		logger.FlushBuffer()
		os.Exit(1)
	}
}
