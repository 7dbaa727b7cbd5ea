// Copyright 2026 The Stagefs Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "stagefs",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "status",
				Run: func(args []string) error {
					called = "status"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "status" {
		t.Errorf("dispatched to %q, want %q", called, "status")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var receivedArgs []string

	root := &Command{
		Name: "stagefs",
		Subcommands: []*Command{
			{
				Name: "uri",
				Subcommands: []*Command{
					{
						Name: "local",
						Run: func(args []string) error {
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"uri", "local", "/tmp/file.txt"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "/tmp/file.txt" {
		t.Errorf("args = %v, want [/tmp/file.txt]", receivedArgs)
	}
}

func TestCommand_Execute_UnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "stagefs",
		Subcommands: []*Command{
			{Name: "status", Run: func([]string) error { return nil }},
			{Name: "export", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"staus"})
	if err == nil {
		t.Fatal("Execute() succeeded with unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "status"`) {
		t.Errorf("error = %q, want status suggestion", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "export",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.String("output", "", "output file")
			return flags
		},
		Run: func([]string) error { return nil },
	}

	err := command.Execute([]string{"--outptu", "x.tar.zst"})
	if err == nil {
		t.Fatal("Execute() succeeded with unknown flag")
	}
	if !strings.Contains(err.Error(), "--output") {
		t.Errorf("error = %q, want --output suggestion", err)
	}
}

func TestCommand_Execute_ParsesFlags(t *testing.T) {
	var output string
	var positional []string

	command := &Command{
		Name: "export",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.StringVar(&output, "output", "", "output file")
			return flags
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}

	if err := command.Execute([]string{"--output", "tree.tar.zst", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if output != "tree.tar.zst" {
		t.Errorf("output = %q", output)
	}
	if len(positional) != 1 || positional[0] != "extra" {
		t.Errorf("positional = %v", positional)
	}
}

func TestCommand_Execute_SubcommandRequiredShowsHelp(t *testing.T) {
	root := &Command{
		Name:        "stagefs",
		Subcommands: []*Command{{Name: "status", Summary: "List staged paths"}},
	}

	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute() with no args should fail")
	}
}

func TestCommand_PrintHelp_ListsSubcommands(t *testing.T) {
	root := &Command{
		Name:    "stagefs",
		Summary: "Staged filesystem tools",
		Subcommands: []*Command{
			{Name: "cat", Summary: "Print staged content"},
			{Name: "status", Summary: "List staged paths"},
		},
	}

	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	help := buffer.String()

	for _, want := range []string{"cat", "Print staged content", "status", "List staged paths"} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"status", "status", 0},
		{"staus", "status", 1},
		{"cat", "stat", 1},
		{"exprot", "export", 2},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
