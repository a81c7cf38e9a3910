package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/wagate/internal/server"
	"github.com/dmitrijs2005/wagate/internal/server/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
