package main

import "chainalerts/internal/cli"

func main() {
	cli.Execute()
}
