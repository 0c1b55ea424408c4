package main

import (
	"os"

	"github.com/progitto/TelegramMediaDownload/cmd/downloader/commands"
)

var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
