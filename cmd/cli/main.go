package main

import (
	"os"

	"schemaflow/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
