package main

import (
	"fmt"
	"os"

	"github.com/docfuse/docfuse/cmd/docfuse"
)

func main() {
	if err := docfuse.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
