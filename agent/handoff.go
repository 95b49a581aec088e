package agent

import "github.com/seafield/agentrelay/tool"

// TransferToolName is the synthetic tool reasoning providers expose to let a
// model request transfer of control to another agent. The engine never
// dispatches it; adapters fold a call to it into Step.Handoff.
const TransferToolName = "transfer_to_agent"

// TransferToolDefinition builds the synthetic handoff tool for the given
// allowed targets.
func TransferToolDefinition(targets []string) tool.Definition {
	return tool.Definition{
		Name:        TransferToolName,
		Description: "Transfer control of the conversation to another agent by id. Use when another agent is better suited.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent": map[string]any{
					"type":        "string",
					"description": "Target agent id",
					"enum":        targets,
				},
			},
			"required": []string{"agent"},
		},
	}
}
