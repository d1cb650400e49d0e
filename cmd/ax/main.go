package main

import (
	"os"

	axcmd "github.com/axioms/ax/pkg/ax/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return axcmd.Execute(axcmd.DefaultConfig(), args)
}
