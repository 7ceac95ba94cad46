package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/reviewapps-dev/siteup/internal/logstream"
)

func runLog(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("log", stderr)
	var c common
	c.register(fs)
	lines := fs.Int("n", 50, "number of lines to show")
	follow := fs.Bool("f", false, "keep printing new lines")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := c.read()
	if err != nil {
		return err
	}
	path := cfg.Paths.LogFile

	if !*follow {
		tail, err := logstream.Tail(path, *lines)
		if err != nil {
			return err
		}
		for _, l := range tail {
			fmt.Fprintln(stdout, l)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	for l := range logstream.NewTailer(path, *lines).Start(ctx) {
		fmt.Fprintln(stdout, l)
	}
	return nil
}
