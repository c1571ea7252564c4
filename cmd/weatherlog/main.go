package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/weatherlog/cmd/weatherlog/console"
	"github.com/mklimuk/weatherlog/pkg/config"
	"github.com/mklimuk/weatherlog/snsctx"
)

var commit string
var date string

const sessionKey = "session"

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "weatherlog"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, date, commit)
	app.Usage = "BMP180 and Si7021 weather logger"
	app.Metadata = map[string]interface{}{}
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"WEATHERLOG_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "bus transport: generic, gobot, mcp2221 or sim",
		},
		&cli.IntFlag{
			Name:  "bus",
			Usage: "I2C bus number",
		},
	}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		// standard output carries measurements only
		console.SetOutput(os.Stderr, os.Stderr)
		c.Context = snsctx.SetVerbose(c.Context, c.Bool("verbose"))

		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		s, err := openSession(cfg, os.Stdout)
		if err != nil {
			return console.ExitErr("transport setup", err)
		}
		c.App.Metadata[sessionKey] = s
		return nil
	}
	app.After = func(c *cli.Context) error {
		s, ok := c.App.Metadata[sessionKey].(*session)
		if !ok {
			return nil
		}
		if err := s.Close(); err != nil {
			console.Warnf("could not close bus: %s", err)
		}
		return nil
	}
	app.Commands = cli.Commands{
		&detectCmd,
		&bmp180Cmd,
		&si7021Cmd,
		&csvCmd,
		&consoleCmd,
		&runCmd,
		&mcp2221Cmd,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("transport") {
		cfg.Transport = c.String("transport")
	}
	if c.IsSet("bus") {
		cfg.Bus = c.Int("bus")
	}
	return cfg, cfg.Validate()
}

func sessionFrom(c *cli.Context) *session {
	return c.App.Metadata[sessionKey].(*session)
}
