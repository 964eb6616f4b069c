package main

import (
	"fmt"
	"log"

	dotenv "github.com/dsh2dsh/expx-dotenv"

	"feedkeeper.app/internal/cli"
)

func main() {
	if err := dotenv.New().WithDepth(1).Load(); err != nil {
		log.Fatal(fmt.Errorf("failed parse .env file(s): %w", err))
	}
	cli.Execute()
}
