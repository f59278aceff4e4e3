package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitNoMatches      = 3
	ExitDownloadFailed = 4
	ExitExtractFailed  = 5
	ExitStorageError   = 6
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "index":
		return runIndex(cmdArgs)
	case "filter":
		return runFilter(cmdArgs)
	case "fetch":
		return runFetch(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: atbfetch <command> [options]

Commands:
  index   Download the AllTheBacteria file-list metadata index
  filter  Filter the index by a species regexp and preview or save matches
  fetch   Download matching archives and extract the wanted assemblies

Run 'atbfetch <command> -h' for command-specific help.`)
}
