package main

import (
	"errors"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/weatherlog/cmd/weatherlog/console"
)

var detectCmd = cli.Command{
	Name:  "detect",
	Usage: "scan the bus for responding devices",
	Action: func(c *cli.Context) error {
		if err := sessionFrom(c).detect(c.Context); err != nil {
			return console.ExitErr("detect", err)
		}
		return nil
	},
}

var bmp180Cmd = cli.Command{
	Name:  "bmp180",
	Usage: "read temperature and pressure",
	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:  "oversampling",
			Usage: "pressure oversampling setting (0-3)",
		},
	},
	Action: func(c *cli.Context) error {
		s := sessionFrom(c)
		if c.IsSet("oversampling") {
			oss, err := parseOversampling(c.Uint("oversampling"))
			if err != nil {
				return console.Exit(1, "invalid flag: %s", console.Red(err))
			}
			s.cfg.BMP180.Oversampling = oss
		}
		if err := s.bmp180(c.Context); err != nil {
			return console.ExitErr("bmp180", err)
		}
		return nil
	},
}

var si7021Cmd = cli.Command{
	Name:  "si7021",
	Usage: "read temperature, relative humidity and dew point",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "crc",
			Usage: "validate measurement checksums",
		},
	},
	Action: func(c *cli.Context) error {
		s := sessionFrom(c)
		if c.IsSet("crc") {
			s.cfg.Si7021.ValidateChecksum = c.Bool("crc")
		}
		if err := s.si7021(c.Context); err != nil {
			return console.ExitErr("si7021", err)
		}
		return nil
	},
}

var csvCmd = cli.Command{
	Name:  "csv",
	Usage: "log both sensors as CSV lines until interrupted",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "time between measurements",
		},
		&cli.StringFlag{
			Name:  "on-failure",
			Usage: "failure policy: fail, skip or retry",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "append lines to this file instead of standard output",
		},
	},
	Action: func(c *cli.Context) error {
		s := sessionFrom(c)
		if c.IsSet("interval") {
			s.cfg.CSV.Interval = c.Duration("interval")
		}
		if c.IsSet("on-failure") {
			s.cfg.CSV.OnFailure = c.String("on-failure")
		}
		if c.IsSet("output") {
			s.cfg.CSV.Output = c.String("output")
		}
		if err := s.cfg.Validate(); err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		console.PInfof(console.PictoThermometer, "logging every %s, on failure: %s", s.cfg.CSV.Interval, s.cfg.CSV.OnFailure)
		if err := s.csv(c.Context); err != nil {
			return console.ExitErr("csv", err)
		}
		console.PInfof(console.PictoStop, "logging stopped")
		return nil
	},
}

var runCmd = cli.Command{
	Name:      "run",
	Usage:     "evaluate console lines in order",
	ArgsUsage: "<line>...",
	Action: func(c *cli.Context) error {
		s := sessionFrom(c)
		for _, line := range c.Args().Slice() {
			if err := s.eval(c.Context, line); err != nil {
				if errors.Is(err, errUsage) {
					return console.Exit(1, "invalid command: %s", line)
				}
				return console.ExitErr(line, err)
			}
		}
		return nil
	},
}

var consoleCmd = cli.Command{
	Name:  "console",
	Usage: "interactive shell",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "history",
			Usage: "history file",
			Value: os.ExpandEnv("$HOME/.weatherlog_history"),
		},
	},
	Action: func(c *cli.Context) error {
		shell, err := console.NewShell("weatherlog> ", c.String("history"),
			"i2c", "detect", "bmp180", "si7021", "csv", "help", "exit")
		if err != nil {
			return console.Exit(1, "could not start console: %s", console.Red(err))
		}
		defer func() { _ = shell.Close() }()
		s := sessionFrom(c)
		s.out = shell.Stdout()
		console.Infof("type help for commands, exit to leave")
		// interrupts stop the running command, not the console
		signal.Reset(os.Interrupt)
		for {
			line, err := shell.ReadLine()
			if err != nil {
				return nil
			}
			if line == "exit" || line == "quit" {
				return nil
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			err = s.eval(ctx, line)
			stop()
			if err != nil && !errors.Is(err, errUsage) {
				console.Errorf("%s", err)
			}
			if c.Context.Err() != nil {
				return nil
			}
		}
	},
}
