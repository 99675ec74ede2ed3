package main

import (
	"os"

	"github.com/bitu-idm/dirsync/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
