package main

import "github.com/esm-dev/assetpipe/cli"

func main() {
	cli.Run()
}
