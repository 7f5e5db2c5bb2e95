package main

import (
	"os"

	"github.com/agentloom/agentloom/cmd/agentloom/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
