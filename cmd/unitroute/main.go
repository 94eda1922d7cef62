package main

import (
	"log"

	"github.com/unitroute/unitroute/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ unitroute failed: %v", err)
	}
}
