package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, name := range []string{"serve", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestServeCmdFlags(t *testing.T) {
	cmd := buildServeCmd()
	if cmd.Flags().Lookup("config") == nil {
		t.Fatal("expected --config flag")
	}
	if cmd.Flags().Lookup("debug") == nil {
		t.Fatal("expected --debug flag")
	}
}
