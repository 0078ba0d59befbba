// Package main is the cfnview entrypoint.
package main

import (
	"os"

	"github.com/cfnworks/cfnview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
