package main

import (
	"card-price-tracker/internal/cli"
)

func main() {
	cli.Execute()
}
