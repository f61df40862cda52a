package main

import "github.com/oybaeko/HubSpotPipeline/internal/cli"

func main() {
	cli.Execute()
}
