package cli

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ije/gox/term"
)

const devHelpMessage = `Serve source modules and file assets, transforming them on the fly.

Usage: assetpipe dev [project-dir] [options]

Arguments:
  project-dir  Directory of the project, default is current directory

Options:
  --config     Config file, default is <project-dir>/assetpipe.json
  --port       Port to serve on, default is 3000
  --help, -h   Show help message
`

// Dev serves the project in development mode.
func Dev() {
	configFile := flag.String("config", "", "config file")
	port := flag.Int("port", 0, "port to serve on")
	args, help := parseCommandFlags()

	if help {
		fmt.Print(devHelpMessage)
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

	if len(p.Config().Allow) == 0 {
		logger.Warnf("the allow list is empty, no module will be served")
		fmt.Println(term.Yellow(`[warn] the allow list is empty, no module will be served; add patterns like "src/**" to "allow"`))
	}
	if *port == 0 {
		*port = int(p.Config().Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if p.Config().CodegenDir != "" {
		written, pruned, err := p.Codegen(true, true)
		if err != nil {
			printError(err)
		} else {
			fmt.Println(term.Dim(fmt.Sprintf("codegen: %d stubs written, %d pruned", len(written), len(pruned))))
		}
	}
	go func() {
		if err := p.Watch(ctx, nil); err != nil {
			printError(err)
		}
	}()

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: p.Handler(),
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	fmt.Printf(term.Green("Server is ready on http://localhost:%d\n"), *port)
	err = s.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		printError(err)
		os.Exit(1)
	}
}
