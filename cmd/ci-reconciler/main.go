package main

import "github.com/davarch/ci-reconciler/cmd/ci-reconciler/cli"

func main() {
	cli.Execute()
}
