package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/cfgds/cmd/cfgds/app"
	_ "github.com/zjy-dev/cfgds/internal/interp" // Register the interp runner
	_ "github.com/zjy-dev/cfgds/internal/solver" // Register the enum solver
)

func main() {
	if err := app.NewCfgdsCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
