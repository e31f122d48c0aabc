package main

import (
	"fmt"
	stdlog "log"
	"os"
	"time"

	"tunnelguard/pkg/log"
	"tunnelguard/pkg/manage"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// timeFormats are tried in order when parsing absolute --since values.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimeSpec accepts either a relative duration back from now
// ("1h", "30m") or an absolute timestamp.
func parseTimeSpec(spec string) (time.Time, error) {
	if duration, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-duration), nil
	}
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, spec); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time specification %q: use a duration (1h, 30m) or an absolute time (2026-01-02T15:04:05Z)", spec)
}

var logsCommand = &cli.Command{
	Name:  "logs",
	Usage: "shows recent audit log entries",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "n", Value: 20, Usage: "number of entries"},
		&cli.StringFlag{Name: "since", Usage: "start time, relative (1h) or absolute"},
		&cli.BoolFlag{Name: "raw", Usage: "print raw JSON instead of console format"},
	},
	Action: logsCmd,
}

func logsCmd(c *cli.Context) error {
	// Prefer asking the running daemon; fall back to reading the log
	// database directly when no daemon answers.
	client := manage.NewClient("tunnelguard", os.Getenv("TUNNELGUARD_MANAGEMENT_PASSWORD"))
	if client.IsServerStarted() {
		cmd := "logs"
		if !c.Bool("raw") {
			cmd = "logs pretty"
		}
		res, err := client.SendCommand(cmd)
		if err != nil {
			stdlog.Fatalf("%v", err)
		}
		fmt.Println(res)
		return nil
	}

	if err := log.Init("tunnelguard.db", false); err != nil {
		stdlog.Fatalf("%v", err)
	}
	defer log.Close()

	var entries []log.Entry
	var err error
	if spec := c.String("since"); spec != "" {
		start, perr := parseTimeSpec(spec)
		if perr != nil {
			return cli.Exit(perr.Error(), 2)
		}
		entries, err = log.Since(start, c.Int("n"))
	} else {
		entries, err = log.LastN(c.Int("n"))
	}
	if err != nil {
		stdlog.Fatalf("%v", err)
	}

	if c.Bool("raw") {
		for _, e := range entries {
			fmt.Print(e.Event)
		}
		return nil
	}
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	for _, e := range entries {
		w.Write([]byte(e.Event))
	}
	return nil
}
