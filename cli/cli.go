package cli

import (
	"fmt"
	"os"
)

// VERSION is the version of the assetpipe CLI.
const VERSION = "0.1.0"

const helpMessage = "\033[30massetpipe - Serve TypeScript modules unbundled in development, ship hashed modules in production.\033[0m" + `

Usage: assetpipe [command] [options]

Commands:
  dev                   Serve source modules and file assets with on-demand transforms
  build                 Build the entry scripts and file assets into the output directory
  codegen               Write the accessor stubs into the codegen directory
  check                 Report drift between the codegen directory and the stubs

Options:
  --version, -v         Show the version
  --help, -h            Display this help message
`

func Run() {
	if len(os.Args) < 2 {
		fmt.Print(helpMessage)
		return
	}
	switch command := os.Args[1]; command {
	case "dev":
		Dev()
	case "build":
		Build()
	case "codegen":
		Codegen()
	case "check":
		Check()
	case "version":
		fmt.Println("assetpipe " + VERSION)
	default:
		for _, arg := range os.Args[1:] {
			if arg == "--version" {
				fmt.Println("assetpipe " + VERSION)
				return
			}
			if arg == "-v" {
				fmt.Println(VERSION)
				return
			}
		}
		fmt.Print(helpMessage)
	}
}
