package main

import (
	"context"
	"fmt"

	"github.com/adred-codev/agent-broker/internal/services"
)

// noopAgentService is the default AgentService when the broker runs without
// a wired agent registry: every lookup reports nothing known. Production
// deployments inject a real store-backed implementation instead.
type noopAgentService struct{}

func newNoopAgentService() *noopAgentService { return &noopAgentService{} }

func (noopAgentService) ListAgents(context.Context) ([]services.AgentRecord, error) {
	return nil, nil
}

func (noopAgentService) GetAgent(_ context.Context, agentID string) (services.AgentRecord, error) {
	return services.AgentRecord{}, fmt.Errorf("agent-broker: unknown agent %q", agentID)
}

// noopCommandService is the default CommandService: it accepts every
// lifecycle notification without persisting it.
type noopCommandService struct{}

func newNoopCommandService() *noopCommandService { return &noopCommandService{} }

func (noopCommandService) RecordCommand(context.Context, services.CommandRecord) error {
	return nil
}

func (noopCommandService) UpdateStatus(context.Context, string, string, string) error {
	return nil
}
