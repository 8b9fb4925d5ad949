package main

import (
	"io"
	"os"
)

func main() {
	if err := execute(os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}

func execute(args []string, out io.Writer) error {
	root, cleanup := newRootCmd()
	defer cleanup()
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}
