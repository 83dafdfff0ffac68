package dialogue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the overridable prompt fragments for the reply
// generator. Deployments tune wording without rebuilding.
type PromptConfig struct {
	System       string `yaml:"system"`
	CompleteNote string `yaml:"complete_note"`
	Greeting     string `yaml:"greeting"`
}

const defaultSystem = `You are an intake assistant. Your only task is to collect four pieces of information: two university names and the course of interest at each. Do not ask for anything else.

Guidelines:
- Collect one piece of information at a time.
- Keep replies concise and conversational.
- Do not make assumptions about the user's information or intent.
- Always call the generate_reply tool to produce your reply.`

const defaultCompleteNote = `Summarize the collected information and say "We will get back to you soon." If the user asks about the collected pathway, answer from the collected information only.`

const defaultGreeting = "Hi! I need to collect information about two universities and courses you're interested in. Let's start with the name of your first university."

func DefaultPromptConfig() *PromptConfig {
	return &PromptConfig{
		System:       defaultSystem,
		CompleteNote: defaultCompleteNote,
		Greeting:     defaultGreeting,
	}
}

// LoadPromptConfig reads a YAML prompt file, filling missing entries with
// the defaults. An empty path returns the defaults.
func LoadPromptConfig(path string) (*PromptConfig, error) {
	conf := DefaultPromptConfig()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt config: %w", err)
	}
	var loaded PromptConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse prompt config: %w", err)
	}
	if loaded.System != "" {
		conf.System = loaded.System
	}
	if loaded.CompleteNote != "" {
		conf.CompleteNote = loaded.CompleteNote
	}
	if loaded.Greeting != "" {
		conf.Greeting = loaded.Greeting
	}
	return conf, nil
}
