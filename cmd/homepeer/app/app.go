package app

import (
	"github.com/autopeer-io/homepeer/pkg/app"
)

const (
	commandName = "homepeer"
	commandDesc = `homepeer turns spoken-style requests into smart home commands.

It asks a language model to recognise device commands in each message, asks
one follow-up question when a request is only implied, and publishes the
resulting commands either to a local file backed broker or to an MQTT broker.`
)

// NewApp returns the homepeer command tree.
func NewApp() *app.App {
	return app.NewApp(
		commandName,
		"Smart home assistant",
		app.WithDescription(commandDesc),
		app.WithSubcommands(
			newChatApp(),
			newServeApp(),
			newSimulateApp(),
			newPublishApp(),
			newLogApp(),
		),
	)
}
