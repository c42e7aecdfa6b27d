package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esm-dev/assetpipe/internal/config"
	"github.com/esm-dev/assetpipe/internal/pipeline"
	logx "github.com/ije/gox/log"
	"github.com/ije/gox/term"
)

// parseCommandFlags parses the flags following the command. Help flags are
// reported instead of being handled by the flag package.
func parseCommandFlags() (args []string, help bool) {
	rest := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[2:] {
		if arg == "-h" || arg == "--help" {
			help = true
			continue
		}
		rest = append(rest, arg)
	}
	flag.CommandLine.Parse(rest)
	return flag.Args(), help
}

// loadPipeline loads the config of the project in dir (the working directory
// when empty) and creates its pipeline and logger. The logger writes to
// `<logDir>/assetpipe.log` when a log directory is configured.
func loadPipeline(configFile string, dir string) (*pipeline.Pipeline, *logx.Logger, error) {
	var err error
	if dir == "" {
		dir, err = os.Getwd()
	} else {
		dir, err = filepath.Abs(dir)
		if err == nil {
			var fi os.FileInfo
			fi, err = os.Stat(dir)
			if err == nil && !fi.IsDir() {
				err = fmt.Errorf("stat %s: not a directory", dir)
			}
		}
	}
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadOrDefault(configFile, dir)
	if err != nil {
		return nil, nil, err
	}
	logger := &logx.Logger{}
	if cfg.LogDir != "" {
		logger, err = logx.New(fmt.Sprintf("file:%s?buffer=32k", filepath.Join(cfg.LogDir, "assetpipe.log")))
		if err != nil {
			return nil, nil, fmt.Errorf("initialize logger: %w", err)
		}
	}
	logger.SetLevelByName(cfg.LogLevel)
	p, err := pipeline.New(cfg, logger)
	if err != nil {
		logger.FlushBuffer()
		return nil, nil, err
	}
	return p, logger, nil
}

func printError(err error) {
	os.Stderr.WriteString(term.Red("[error] " + err.Error() + "\n"))
}
