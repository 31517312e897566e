package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"primate-rag/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
