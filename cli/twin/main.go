package main

import (
	"os"

	twincmder "github.com/papercomputeco/twin/cmd/twin"
)

func main() {
	cmd := twincmder.NewTwinCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
