package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/armhack/whisperbridge/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if isUsageError(err) {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", helpTarget(cmd, os.Args[1:]))
		}
		os.Exit(1)
	}
}

// isUsageError matches the argument and flag errors cobra produces.
func isUsageError(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	for _, pattern := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"invalid argument",
		"accepts ",
		"requires at least",
		"requires at most",
		"requires between",
		"required flag",
	} {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

// helpTarget is the deepest command path args resolve to.
func helpTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "whisperbridge"
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return root.CommandPath()
	}

	found, _, err := root.Find(args)
	if err != nil || found == nil {
		return root.CommandPath()
	}
	return found.CommandPath()
}
