// Package chatapi defines the OpenAI Chat Completions wire types the
// gateway's HTTP surface speaks, independent of how any given vendor
// adapter represents the conversation internally.
package chatapi

import (
	"encoding/json"
	"fmt"
)

// Message is one entry of a chat completion's messages array. OpenAI's
// wire format lets content be either a plain string or an array of typed
// parts (text/image_url/file); Message.UnmarshalJSON accepts both and
// normalizes: Content always carries the concatenated text (so adapters
// that only understand flat prompts keep working unchanged), and
// ContentParts carries the full part list whenever the array form was
// used, for adapters that forward attachments (e.g. glm's file upload).
type Message struct {
	Role             string        `json:"role"`
	Content          string        `json:"-"`
	ContentParts     []ContentPart `json:"-"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	Name             string        `json:"name,omitempty"`
	ToolCallID       string        `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
}

// ContentPart is one entry of a multimodal message's content array.
type ContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *ContentImageURL `json:"image_url,omitempty"`
	FileURL  *ContentImageURL `json:"file_url,omitempty"`
}

// ContentImageURL holds an image/file reference, either a normal URL or a
// "data:<mime>;base64,<payload>" data URI carrying the bytes inline.
type ContentImageURL struct {
	URL string `json:"url"`
}

type messageAlias Message

// messageWire mirrors Message but with a raw Content field so both the
// string and array wire shapes can be tried during unmarshal.
type messageWire struct {
	messageAlias
	Content json.RawMessage `json:"content,omitempty"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message(w.messageAlias)

	if len(w.Content) == 0 || string(w.Content) == "null" {
		return nil
	}

	var asString string
	if err := json.Unmarshal(w.Content, &asString); err == nil {
		m.Content = asString
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(w.Content, &parts); err != nil {
		return fmt.Errorf("message content must be a string or an array of parts: %w", err)
	}
	m.ContentParts = parts

	var text string
	for _, p := range parts {
		if p.Type == "text" || (p.Type == "" && p.Text != "") {
			text += p.Text
		}
	}
	m.Content = text
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{messageAlias: messageAlias(m)}
	if len(m.ContentParts) > 0 {
		raw, err := json.Marshal(m.ContentParts)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	} else if m.Content != "" {
		raw, err := json.Marshal(m.Content)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}
	return json.Marshal(w)
}

// ToolCall mirrors OpenAI's tool_calls entry.
type ToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc holds the function name and JSON-encoded arguments string.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes one function the caller made available for the model to
// invoke, per OpenAI's tools array.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function schema inside a Tool entry.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ChatCompletionRequest is the request body of POST /v1/chat/completions.
// WebSearch, ReasoningEffort and DeepResearch are gateway extensions: they
// have no OpenAI equivalent but map onto vendor-native modes (DeepSeek's
// search/thinking toggles, GLM's meta_data.chat_mode, Z.ai's
// enable_thinking) that the vendor's own web client exposes as UI toggles.
type ChatCompletionRequest struct {
	Model          string    `json:"model" binding:"required"`
	Messages       []Message `json:"messages" binding:"required"`
	Temperature    *float64  `json:"temperature,omitempty"`
	TopP           *float64  `json:"top_p,omitempty"`
	MaxTokens      *int      `json:"max_tokens,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
	Tools          []Tool    `json:"tools,omitempty"`
	ToolChoice     any       `json:"tool_choice,omitempty"`
	User           string    `json:"user,omitempty"`
	Stop           []string  `json:"stop,omitempty"`
	WebSearch      *bool     `json:"web_search,omitempty"`
	ReasoningEffort *string  `json:"reasoning_effort,omitempty"`
	DeepResearch   *bool     `json:"deep_research,omitempty"`
}

// ChatCompletionResponse is the non-streaming response body.
type ChatCompletionResponse struct {
	ID      string     `json:"id"`
	Object  string     `json:"object"`
	Created int64      `json:"created"`
	Model   string     `json:"model"`
	Choices []Choice   `json:"choices"`
	Usage   *Usage     `json:"usage,omitempty"`
}

// Choice is one non-streaming completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting, estimated where the vendor never
// reports exact counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one "chat.completion.chunk" SSE payload.
type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// StreamChoice is one streaming choice delta.
type StreamChoice struct {
	Index        int          `json:"index"`
	Delta        StreamDelta  `json:"delta"`
	FinishReason *string      `json:"finish_reason"`
}

// StreamDelta is the incremental content of a streaming choice.
type StreamDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// Model is one entry of the /v1/models response.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorBody is the OpenAI-compatible error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, type and optional vendor-specific code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
