package main

import (
	"fmt"
	"os"

	"tunnelguard/pkg/restrict"

	"github.com/urfave/cli/v2"
)

var checkCommand = &cli.Command{
	Name:      "check",
	Usage:     "validates a restrictions file",
	UsageText: "check <file>",
	Action:    checkCmd,
}

func checkCmd(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("usage: check <file>", 2)
	}
	path := c.Args().First()

	set, err := restrict.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		return cli.Exit("", 1)
	}

	fmt.Printf("%s: %d rules\n", path, len(set.Rules))
	for i, r := range set.Rules {
		fmt.Printf("  %d. %s (%d matchers, %d allow entries)\n", i+1, r.Name, len(r.Match), len(r.Allow))
	}
	if len(set.Rules) == 0 {
		fmt.Println("warning: empty rule set denies every request")
	}
	return nil
}
