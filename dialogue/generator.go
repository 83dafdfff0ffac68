// Package dialogue produces the assistant's conversational replies that
// steer the user toward the next missing intake field.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/intakeagent/fields"
	"github.com/tbxark/intakeagent/types"
)

// Request carries everything the generator needs for one reply.
type Request struct {
	Utterance string
	Fields    fields.Set
	Context   types.ContextKey
	History   []*schema.Message
	// RephraseOnly is set after an extraction failure: the reply must ask
	// the user to restate their answer instead of acknowledging progress.
	RephraseOnly bool
}

// Generator is the text-generation contract for assistant replies.
type Generator interface {
	GenerateReply(ctx context.Context, req *Request) (string, error)
}

const (
	generateReplyToolName        = "generate_reply"
	generateReplyToolDescription = "Generate a natural conversational reply guiding the user through the intake. Keep replies concise and ask for exactly one piece of information."
)

type generateReplyInput struct {
	Message string `json:"message" jsonschema:"required,description=Natural conversational reply to the user"`
}

type generateReplyOutput struct {
	Success bool `json:"success"`
}

// ToolBasedGenerator generates replies through the generate_reply tool
// schema so the output is always a single well-formed message.
type ToolBasedGenerator struct {
	chatModel model.ToolCallingChatModel
	prompts   *PromptConfig
}

func NewToolBasedGenerator(ctx context.Context, chatModel model.ToolCallingChatModel, prompts *PromptConfig) (*ToolBasedGenerator, error) {
	if prompts == nil {
		prompts = DefaultPromptConfig()
	}
	toolFunc := func(ctx context.Context, input *generateReplyInput) (*generateReplyOutput, error) {
		return &generateReplyOutput{Success: true}, nil
	}
	replyTool, err := utils.InferTool(
		generateReplyToolName,
		generateReplyToolDescription,
		toolFunc,
	)
	if err != nil {
		return nil, err
	}
	toolInfo, err := replyTool.Info(ctx)
	if err != nil {
		return nil, err
	}
	modelWithTools, err := chatModel.WithTools([]*schema.ToolInfo{toolInfo})
	if err != nil {
		return nil, err
	}
	return &ToolBasedGenerator{chatModel: modelWithTools, prompts: prompts}, nil
}

func (g *ToolBasedGenerator) GenerateReply(ctx context.Context, req *Request) (string, error) {
	slog.Debug("generate reply request", "context", req.Context, "history_len", len(req.History), "rephrase_only", req.RephraseOnly)

	messages := make([]*schema.Message, 0, len(req.History)+2)
	messages = append(messages, schema.SystemMessage(g.systemPrompt(req)))
	messages = append(messages, req.History...)
	messages = append(messages, schema.UserMessage(req.Utterance))

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		slog.Error("generate reply model call failed", "err", err)
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	if len(resp.ToolCalls) == 0 {
		return "", fmt.Errorf("LLM call failed: no tool calls found")
	}

	var input generateReplyInput
	if err := sonic.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &input); err != nil {
		slog.Error("generate reply tool arguments unmarshal failed", "err", err)
		return "", fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	if input.Message == "" {
		return "", fmt.Errorf("LLM call failed: message is empty")
	}
	return input.Message, nil
}

func (g *ToolBasedGenerator) systemPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString(g.prompts.System)
	b.WriteString("\n\nCurrently collected:\n")
	b.WriteString(formatCollected(req.Fields))
	if req.Context == types.ContextComplete {
		b.WriteString("\nAll information has been collected.\n")
		b.WriteString(g.prompts.CompleteNote)
	} else {
		fmt.Fprintf(&b, "\nNext information needed: %s\n", types.FieldKey(req.Context).DisplayName())
		b.WriteString("Ask for that piece only and do not make assumptions about the user's information or intent.")
	}
	if req.RephraseOnly {
		b.WriteString("\nThe last message could not be understood. Politely ask the user to rephrase their answer.")
	}
	return b.String()
}

func formatCollected(set fields.Set) string {
	var b strings.Builder
	for _, k := range types.FieldOrder {
		slot, _ := set.Get(k)
		state := "still needed"
		if slot.IsSet() {
			state = slot.Value
		}
		fmt.Fprintf(&b, "- %s: %s\n", k.DisplayName(), state)
	}
	return b.String()
}
