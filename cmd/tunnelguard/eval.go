package main

import (
	"fmt"
	"net/netip"

	"tunnelguard/pkg/restrict"

	"github.com/urfave/cli/v2"
)

var evalCommand = &cli.Command{
	Name:  "eval",
	Usage: "evaluates one request descriptor against a restrictions file",
	Description: `loads the given restrictions file, evaluates a single request and
prints the decision. Exit code 0 means allow, 1 means deny.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "rules", Usage: "restrictions file", Required: true},
		&cli.BoolFlag{Name: "reverse", Usage: "evaluate as a reverse tunnel request"},
		&cli.StringFlag{Name: "protocol", Value: "tcp", Usage: "transport protocol (tcp, udp, socks5, unix, reverse-tcp, ...)"},
		&cli.StringFlag{Name: "path", Usage: "request path used for rule matching"},
		&cli.StringFlag{Name: "host", Usage: "destination hostname (forward tunnels)"},
		&cli.UintFlag{Name: "port", Usage: "destination port"},
		&cli.StringFlag{Name: "addr", Usage: "destination (forward) or source (reverse) IP address", Required: true},
	},
	Action: evalCmd,
}

func evalCmd(c *cli.Context) error {
	set, err := restrict.LoadFile(c.String("rules"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid rules: %v", err), 2)
	}

	proto, err := restrict.ParseLocalProtocol(c.String("protocol"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	req := restrict.Request{
		Direction: restrict.Forward,
		Protocol:  proto,
		Path:      c.String("path"),
		Host:      c.String("host"),
		Port:      uint16(c.Uint("port")),
	}
	if c.Bool("reverse") {
		req.Direction = restrict.Reverse
	}
	addr, err := netip.ParseAddr(c.String("addr"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid addr: %v", err), 2)
	}
	req.Addr = addr

	d := set.Evaluate(req)
	if d.Allowed {
		fmt.Printf("allow (rule %q)\n", d.Rule)
		return nil
	}
	if d.Rule != "" {
		fmt.Printf("deny: %s (rule %q)\n", d.Reason, d.Rule)
	} else {
		fmt.Printf("deny: %s\n", d.Reason)
	}
	return cli.Exit("", 1)
}
