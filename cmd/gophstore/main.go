package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/gophstore/internal/app"
	"github.com/dmitrijs2005/gophstore/internal/config"
	"github.com/dmitrijs2005/gophstore/internal/flagx"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	err = a.Run(ctx, flagx.Positional(os.Args[1:], config.Flags))
	if cerr := a.Close(); cerr != nil {
		log.Printf("close: %v", cerr)
	}

	if err != nil {
		// bare ErrUsage means the usage text was already printed
		if err != app.ErrUsage { //nolint:errorlint
			log.Printf("%v", err)
		}
		os.Exit(1)
	}

}
