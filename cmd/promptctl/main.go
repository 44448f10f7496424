package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/promptseal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
