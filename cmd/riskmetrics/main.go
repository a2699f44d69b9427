package main

import "defi-risk-metrics/internal/cli"

func main() {
	cli.Execute()
}
