package main

import "github.com/bryanchriswhite/witcher/cmd/witcher/commands"

func main() {
	commands.Execute()
}
