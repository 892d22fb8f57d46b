package main

import (
	"fmt"
	"os"

	"github.com/rspd/rspd/cmd/rspd/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
