package main

import "collateral-watch/internal/cli"

func main() {
	cli.Execute()
}
