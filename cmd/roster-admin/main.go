package main

import (
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/platinummonkey/roster/pkg/cli"
)

func main() {
	env := cli.NewEnv()
	rootCmd := cli.NewRootCommand(env)

	if err := rootCmd.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
