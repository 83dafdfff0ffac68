package dialogue

import "github.com/cloudwego/eino/schema"

// Trimmer bounds the chat history passed to the reply generator.
type Trimmer interface {
	Trim(history []*schema.Message) []*schema.Message
}

// KeepLastNTrimmer keeps the last N messages. Zero or negative N keeps
// nothing. System messages are added by the generator per call, so the
// window only holds user/assistant turns.
type KeepLastNTrimmer struct {
	N int
}

func (t KeepLastNTrimmer) Trim(history []*schema.Message) []*schema.Message {
	if t.N <= 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m != nil {
			out = append(out, m)
		}
	}
	if len(out) <= t.N {
		return out
	}
	return out[len(out)-t.N:]
}
