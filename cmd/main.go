package main

import (
	"log"

	"github.com/BIwashi/canreplay/app/replay"
	"github.com/BIwashi/canreplay/pkg/cli"
)

func main() {
	c := cli.NewCLI(
		"canreplay",
		"Replay captured CAN logs to a device over a serial link, keeping the recorded timing.",
	)

	c.AddCommands(
		replay.NewCommand(),
	)

	if err := c.Run(); err != nil {
		log.Fatal(err)
	}
}
