package main

import (
	"os"

	"github.com/Nubaeon/empirica/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
