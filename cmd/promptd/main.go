package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/promptseal/internal/buildinfo"
	"github.com/dmitrijs2005/promptseal/internal/config"
	"github.com/dmitrijs2005/promptseal/internal/server"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig(os.Args[1:])
	app, err := server.NewApp(ctx, cfg, os.Stdout)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
