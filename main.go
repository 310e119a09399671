package main

import "car-assistant/cmd/car-assistant/commands"

func main() {
	commands.Execute()
}
