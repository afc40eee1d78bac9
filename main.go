package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jitvm/rvsim/rvsim/cmd"
)

func main() {
	app := cli.NewApp()
	app.Name = "rvsim"
	app.Usage = "RISC-V 64-bit instruction set simulator"
	app.Description = "Executes RISC-V code on non-RISC-V hosts, with tracing, breakpoints and a runtime-call bridge for host functions."
	app.Commands = []*cli.Command{
		cmd.RunCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
