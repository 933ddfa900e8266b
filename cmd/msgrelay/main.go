package main

import (
	// Importing the package to automatically set GOMAXPROCS.
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/msgrelay/cmd/msgrelay/app"
)

func main() {
	app.NewApp().Run()
}
