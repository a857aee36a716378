package main

import (
	"os"

	"github.com/pabot-dev/pabot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
