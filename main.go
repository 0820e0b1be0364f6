package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/frahmantamala/zenn-checkout/cmd"
)

func main() {
	// .env is optional; real environments inject variables directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}
	cmd.Execute()
}
