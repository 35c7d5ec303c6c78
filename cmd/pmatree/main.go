/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/pmatree/cmd/pmatree/cmd"
	"github.com/ssargent/pmatree/pkg/di"
)

func main() {
	container := di.NewContainer()
	cmd.SetContainer(container)
	cmd.Execute()
}
