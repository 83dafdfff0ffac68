// Package extract turns a free-text user utterance into per-field value
// candidates with confidence scores, via tool-calling on a chat model.
package extract

import (
	"context"
	"errors"
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

// ErrExtractionFailure marks malformed or schema-violating model output.
// The caller must not advance session state when it sees this error.
var ErrExtractionFailure = errors.New("extraction failure")

// Extraction maps field keys to proposed values. Empty map means the
// utterance mentioned nothing usable.
type Extraction map[types.FieldKey]fields.Candidate

// Extractor is the field-extraction contract: it proposes candidates for
// zero or more of the four fields and never invents a field the utterance
// does not mention.
type Extractor interface {
	Extract(ctx context.Context, utterance string, current fields.Set) (Extraction, error)
}

const (
	recordFieldsToolName        = "record_intake_fields"
	recordFieldsToolDescription = "Record university and course names extracted from the user's message, with a confidence score per field."
)

type extractedField struct {
	Field      string  `json:"field" jsonschema:"required,enum=u1,enum=c1,enum=u2,enum=c2,description=Which intake field the value fills"`
	Value      string  `json:"value" jsonschema:"required,description=The extracted university or course name"`
	Confidence float64 `json:"confidence" jsonschema:"required,description=Confidence 0-1 that the value correctly fills the field"`
}

type recordFieldsInput struct {
	Fields []extractedField `json:"fields" jsonschema:"description=Fields mentioned in the message. Empty when nothing was mentioned"`
}

type recordFieldsOutput struct {
	Success bool `json:"success"`
}

// ToolBasedExtractor extracts fields by forcing the model through the
// record_intake_fields tool schema.
type ToolBasedExtractor struct {
	chatModel model.ToolCallingChatModel
}

func NewToolBasedExtractor(ctx context.Context, chatModel model.ToolCallingChatModel) (*ToolBasedExtractor, error) {
	toolFunc := func(ctx context.Context, input *recordFieldsInput) (*recordFieldsOutput, error) {
		return &recordFieldsOutput{Success: true}, nil
	}
	recordTool, err := utils.InferTool(
		recordFieldsToolName,
		recordFieldsToolDescription,
		toolFunc,
	)
	if err != nil {
		return nil, err
	}
	toolInfo, err := recordTool.Info(ctx)
	if err != nil {
		return nil, err
	}
	modelWithTools, err := chatModel.WithTools([]*schema.ToolInfo{toolInfo})
	if err != nil {
		return nil, err
	}
	return &ToolBasedExtractor{chatModel: modelWithTools}, nil
}

func (e *ToolBasedExtractor) Extract(ctx context.Context, utterance string, current fields.Set) (Extraction, error) {
	systemPrompt := fmt.Sprintf(`You extract structured intake data from user messages.
You MUST call the tool %s and provide JSON arguments matching the tool schema.

Rules:
- For a COURSE field: record any academic subject, major, program, or field of study mentioned.
- For a UNIVERSITY field: record any college, university, or institution name mentioned.
- Only record fields the message actually mentions. Never guess or invent values.
- Set confidence high (0.8+) when the information is clearly present.`, recordFieldsToolName)

	next, more := current.Next()
	nextLine := "All fields are already collected."
	if more {
		nextLine = fmt.Sprintf("Next field needed: %s (%s)", next, next.DisplayName())
	}
	userPrompt := fmt.Sprintf(`User message: %q

Current collected information:
%s
%s

Call the %s tool with every field value present in the message.`,
		utterance, formatCollected(current), nextLine, recordFieldsToolName)

	resp, err := e.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	})
	if err != nil {
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}

	var args string
	for _, tc := range resp.ToolCalls {
		if tc.Function.Name == recordFieldsToolName {
			args = tc.Function.Arguments
			break
		}
	}
	if args == "" {
		return nil, fmt.Errorf("%w: model did not call %s tool", ErrExtractionFailure, recordFieldsToolName)
	}

	var input recordFieldsInput
	if err := sonic.Unmarshal([]byte(args), &input); err != nil {
		slog.Error("extract tool arguments unmarshal failed", "err", err)
		return nil, fmt.Errorf("%w: bad tool arguments: %v", ErrExtractionFailure, err)
	}
	return validate(input)
}

// validate converts raw tool output to an Extraction, rejecting anything
// outside the contract: unknown field keys or confidences outside [0,1]
// are schema violations, empty values are dropped.
func validate(input recordFieldsInput) (Extraction, error) {
	out := make(Extraction, len(input.Fields))
	for _, f := range input.Fields {
		key := types.FieldKey(strings.ToLower(strings.TrimSpace(f.Field)))
		if !key.Valid() {
			return nil, fmt.Errorf("%w: unknown field %q", ErrExtractionFailure, f.Field)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, fmt.Errorf("%w: confidence %v out of range for %s", ErrExtractionFailure, f.Confidence, key)
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			continue
		}
		if prev, ok := out[key]; ok && prev.Confidence >= f.Confidence {
			continue
		}
		out[key] = fields.Candidate{Value: value, Confidence: f.Confidence}
	}
	return out, nil
}

func formatCollected(current fields.Set) string {
	var b strings.Builder
	for _, k := range types.FieldOrder {
		slot, _ := current.Get(k)
		state := "not collected"
		if slot.IsSet() {
			state = slot.Value
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", k.DisplayName(), k, state)
	}
	return b.String()
}
