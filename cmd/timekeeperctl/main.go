package main

import (
	"os"

	"github.com/mescon/timekeeper/cmd/timekeeperctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
