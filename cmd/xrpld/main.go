package main

import "github.com/LeJamon/goXRPLd/internal/cli"

func main() {
	cli.Execute()
}
