package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/homepeer/cmd/homepeer/app"
)

func main() {
	app.NewApp().Run()
}
