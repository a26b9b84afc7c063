package cli

import "testing"

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	serve, _, err := cmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve command: %v", err)
	}
	if serve == nil || serve.Name() != "serve" {
		t.Fatalf("serve command not registered")
	}

	pair, _, err := cmd.Find([]string{"pair"})
	if err != nil {
		t.Fatalf("find pair command: %v", err)
	}
	if pair == nil || pair.Name() != "pair" {
		t.Fatalf("pair command not registered")
	}

	config, _, err := cmd.Find([]string{"config"})
	if err != nil {
		t.Fatalf("find config command: %v", err)
	}
	if config == nil || config.Name() != "config" {
		t.Fatalf("config command not registered")
	}
}
