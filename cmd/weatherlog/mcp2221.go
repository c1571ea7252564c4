package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/weatherlog/adapter"
	"github.com/mklimuk/weatherlog/cmd/weatherlog/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221ListCmd,
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221ListCmd = cli.Command{
	Name:  "ls",
	Usage: "list connected bridges",
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "BUS\tPATH\tSERIAL\tMANUFACTURER\tPRODUCT\n")
		for i, dev := range adapter.Devices() {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, dev.Path, dev.Serial, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the bridge I2C engine status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(sessionFrom(c).bus)
		defer func() { _ = a.Close() }()
		status, err := a.Status(c.Context)
		if err != nil {
			return console.ExitErr("adapter communication", err)
		}
		return encodeStatus(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(sessionFrom(c).bus)
		defer func() { _ = a.Close() }()
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.ExitErr("adapter communication", err)
		}
		return encodeStatus(status)
	},
}

func encodeStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
