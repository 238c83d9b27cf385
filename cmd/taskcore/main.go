package main

import (
	"github.com/nimburion/taskcore/pkg/cli"
)

func main() {
	cli.Execute(cli.NewCommand(cli.CommandOptions{
		Name:        "taskcore",
		Description: "Distributed task scheduling and execution",
	}))
}
