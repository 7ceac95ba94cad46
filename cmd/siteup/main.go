package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/reviewapps-dev/siteup/internal/version"
)

const usage = `usage: siteup <command> [flags]

commands:
  init      ask the deployment questions and write an answers file
  plan      render every artifact for an answers file without touching the host
  apply     provision the host from an answers file
  renew     renew Let's Encrypt certificates that are about to expire
  history   list sites, or the runs of one site
  log       print or follow the operation log
  version   print version information
`

// errUsage marks a bad invocation; the flag package already printed why.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "init":
		err = runInit(args[1:], stdout, stderr)
	case "plan":
		err = runPlan(args[1:], stdout, stderr)
	case "apply":
		err = runApply(args[1:], stdout, stderr)
	case "renew":
		err = runRenew(args[1:], stdout, stderr)
	case "history":
		err = runHistory(args[1:], stdout, stderr)
	case "log":
		err = runLog(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, version.String())
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "siteup: unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
