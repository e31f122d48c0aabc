package main

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"tunnelguard/pkg/manage"

	"github.com/urfave/cli/v2"
)

var ctlCommand = &cli.Command{
	Name:        "ctl",
	Usage:       "controls a running daemon via its management socket",
	UsageText:   "ctl [command] [args...]",
	Description: `sends a command (status, rules, reload, logs, help, ...) to the daemon`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "password", Usage: "management socket password", EnvVars: []string{"TUNNELGUARD_MANAGEMENT_PASSWORD"}},
	},
	Action: ctlCmd,
}

func ctlCmd(c *cli.Context) error {
	client := manage.NewClient("tunnelguard", c.String("password"))
	res, err := client.SendCommand(strings.Join(c.Args().Slice(), " "))
	if err != nil {
		stdlog.Fatalf("%v", err)
	}
	fmt.Println(res)
	os.Exit(0)
	return nil
}
