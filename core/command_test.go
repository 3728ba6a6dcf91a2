package core

import (
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)
	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Unexpected signature %q", cmd.Signature())
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryDuplicates(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "", func(data *[]byte) error { return nil })
	id2 := registry.RegisterResponse("response1", "val=%u")
	again := registry.Register("command1", "other=%u", nil)

	if id1 != 0 || id2 != 1 || again != id1 {
		t.Errorf("Unexpected IDs: %d, %d, %d", id1, id2, again)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 commands, got %d", registry.Count())
	}

	var data []byte
	if err := registry.Dispatch(id2, &data); err == nil {
		t.Error("Dispatching a response must fail")
	}

	commands, responses := registry.CommandsAndResponses()
	if commands["command1"] != 0 || responses["response1 val=%u"] != 1 {
		t.Errorf("Unexpected split: %v / %v", commands, responses)
	}
}
