package main

import (
	"os"

	"github.com/replicheck/replicheck/cli"
)

func main() {
	os.Exit(cli.Main())
}
