package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentoven/artifactchat/internal/queue"
	"github.com/agentoven/artifactchat/pkg/models"
)

// RetrievalTool answers a retrieval tool call in process. The output is
// the same packed envelope the queue workers produce, so it stays under the
// transport ceiling.
func RetrievalTool(tool models.ToolID, r queue.Retriever, p *queue.Packer) ToolFunc {
	return func(ctx context.Context, call models.ToolCall) (string, error) {
		var args struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(call.RawArguments(), &args); err != nil {
			return "", fmt.Errorf("decode %s arguments: %w", call.ToolName(), err)
		}
		body, err := queue.AnswerTool(ctx, tool, r, p, args.Payload, call.ID)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}
