package main

import (
	"os"

	"github.com/chanpod/agent-sessions-sub001/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
