package main

import (
	"github.com/BioHazard786/huddle/cmd"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/ui"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		ui.PrintWarning(err.Error())
	}
	logging.Init()
	cmd.Execute()
}
