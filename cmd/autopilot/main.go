package main

import (
	"chat-autopilot/cmd"
	"os"
)

func main() {
	os.Exit(cmd.Execute())
}
