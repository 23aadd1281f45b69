package main

import (
	"os"

	"github.com/moolen/kubeaudit/cmd/kubeaudit/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
