package main

import (
	"log"

	"github.com/patric-chuzhbe/vkccbot/internal/app"
)

func main() {
	bot, err := app.New()
	if err != nil {
		log.Fatalf("failed to initialize the application: %v", err)
	}
	defer bot.Close()

	if err := bot.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
