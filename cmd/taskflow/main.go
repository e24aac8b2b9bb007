package main

import (
	"os"

	"taskflow/cmd/taskflow/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdout, os.Stderr, nil))
}
