package affinity

import "testing"

func TestCreateAndOwnership(t *testing.T) {
	table := New()
	table.Create("cmd-1", "conn-a", "agent-1")

	if !table.IsOwner("cmd-1", "conn-a") {
		t.Fatalf("expected conn-a to own cmd-1")
	}
	if table.IsOwner("cmd-1", "conn-b") {
		t.Fatalf("conn-b must not own cmd-1")
	}
}

func TestClearByConnectionRemovesOnlyThatConnectionsCommands(t *testing.T) {
	table := New()
	table.Create("cmd-1", "conn-a", "agent-1")
	table.Create("cmd-2", "conn-a", "agent-2")
	table.Create("cmd-3", "conn-b", "agent-1")

	cleared := table.ClearByConnection("conn-a")
	if len(cleared) != 2 {
		t.Fatalf("expected 2 cleared commands, got %d", len(cleared))
	}
	if _, ok := table.Owner("cmd-1"); ok {
		t.Fatalf("cmd-1 should be cleared")
	}
	if !table.IsOwner("cmd-3", "conn-b") {
		t.Fatalf("cmd-3 should remain owned by conn-b")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	table := New()
	table.Create("cmd-1", "conn-a", "agent-1")
	table.Clear("cmd-1")
	table.Clear("cmd-1")
	if _, ok := table.Owner("cmd-1"); ok {
		t.Fatalf("expected cmd-1 to be cleared")
	}
}

func TestClearByAgentOnlyClearsThatAgentsCommands(t *testing.T) {
	table := New()
	table.Create("cmd-1", "conn-a", "agent-1")
	table.Create("cmd-2", "conn-a", "agent-2")
	table.Create("cmd-3", "conn-b", "agent-1")

	cleared := table.ClearByAgent("agent-1")
	if len(cleared) != 2 {
		t.Fatalf("expected 2 cleared commands, got %d", len(cleared))
	}
	byCmd := make(map[string]string)
	for _, c := range cleared {
		byCmd[c.CommandID] = c.ConnectionID
	}
	if byCmd["cmd-1"] != "conn-a" || byCmd["cmd-3"] != "conn-b" {
		t.Fatalf("unexpected cleared set: %+v", cleared)
	}
	if _, ok := table.Owner("cmd-1"); ok {
		t.Fatalf("cmd-1 should be cleared")
	}
	if !table.IsOwner("cmd-2", "conn-a") {
		t.Fatalf("cmd-2 (agent-2) should remain owned by conn-a")
	}
}
