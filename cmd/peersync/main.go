package main

import (
	"os"

	"github.com/alpacahq/peersync/cmd"
	"github.com/alpacahq/peersync/utils/log"
)

func main() {
	defer log.Sync()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
