package main

import "github.com/tickerhub/tickerd/internal/cli"

func main() {
	cli.Execute()
}
