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

	cfg := config.LoadConfig(os.Args[1:])
	app, err := server.NewKeyServerApp(cfg, os.Stdout)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}

}
