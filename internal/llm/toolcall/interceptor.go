// Package toolcall detects the textual tool-call markup several vendor
// web-chat frontends fall back to instead of a native tool-calling wire
// format, buffers it across streaming fragments, and re-emits it as
// OpenAI-compatible tool_calls. Other model output passes through
// untouched until the first tool call is emitted; text after it is dropped.
//
// Two grammars are in use across the vendor pack: a bracketed form
// (`[function_calls] [call:NAME]ARGS[/call] ... [/function_calls]`) and
// an XML-ish form (`<tool_use><name>NAME</name><arguments>ARGS</arguments></tool_use>`).
// Both are driven by the same buffering state machine; only the marker
// and per-call parsing differ. The scanning approach mirrors the pack's
// reasoning-tag stripper: a quick substring check gates the expensive
// path, and a rolling buffer protects against a marker being split
// across chunk boundaries by a vendor's arbitrary SSE fragmentation.
package toolcall

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chatgw/gateway/internal/llm/chatapi"
)

// Form selects which wire grammar an Interceptor scans for.
type Form int

const (
	// FormBracket is the `[function_calls]...[/function_calls]` grammar
	// used by DeepSeek, GLM, Kimi, and MiniMax.
	FormBracket Form = iota
	// FormXML is the `<tool_use>...</tool_use>` grammar used by Z.ai,
	// Qwen domestic, and Qwen-AI international.
	FormXML
)

const maxBufferBytes = 500_000

var callRe = regexp.MustCompile(`(?s)\[call:([^\]]+)\](.*?)\[/call\]`)
var toolUseNameRe = regexp.MustCompile(`(?s)<name>(.*?)</name>`)
var toolUseArgsRe = regexp.MustCompile(`(?s)<arguments>(.*?)</arguments>`)

type scanState int

const (
	stateContent scanState = iota
	stateBuffering
)

// Interceptor is a one-shot, single-stream state machine: construct one
// per request (with the grammar its adapter uses), feed it every
// content delta the vendor adapter produces, and read back the
// OpenAI-shaped deltas it decides to emit.
type Interceptor struct {
	form   Form
	state  scanState
	buf    strings.Builder
	tail   string // unmatched suffix of the previous chunk, re-checked against the open marker
	callID int

	// hasEmittedToolCall latches once the first tool call has been
	// emitted; per spec, no subsequent content-only delta may follow.
	hasEmittedToolCall bool
}

// New returns a fresh Interceptor scanning for the given grammar.
func New(form Form) *Interceptor {
	return &Interceptor{form: form}
}

// Result is what Feed decides to do with one incoming content delta.
type Result struct {
	// Content is assistant-visible text to forward immediately, already
	// stripped of any tool-call markup. Empty once a tool call has been
	// emitted on this stream, per the "no mixing" invariant.
	Content string

	// ToolCalls holds fully-parsed tool calls ready to forward, non-nil
	// only once a complete block has been seen.
	ToolCalls []chatapi.ToolCall

	// Drifted is set if the buffered block exceeded maxBufferBytes without
	// a close marker; Content then carries the raw buffered text so the
	// caller doesn't silently lose it.
	Drifted bool
}

func (ic *Interceptor) openMarker() string {
	if ic.form == FormXML {
		return "<tool_use>"
	}
	return "[function_calls]"
}

func (ic *Interceptor) closeMarker() string {
	if ic.form == FormXML {
		return "</tool_use>"
	}
	return "[/function_calls]"
}

// emittable filters content the "no content after the first tool call"
// invariant forbids from reaching the caller.
func (ic *Interceptor) emittable(content string) string {
	if ic.hasEmittedToolCall {
		return ""
	}
	return content
}

// Feed processes one incoming text fragment and returns what should be
// forwarded to the client. Call Flush when the underlying stream ends to
// recover any content still held in the buffer.
func (ic *Interceptor) Feed(delta string) Result {
	if ic.state == stateContent {
		combined := ic.tail + delta
		ic.tail = ""

		open := ic.openMarker()
		idx := strings.Index(combined, open)
		if idx < 0 {
			// No full marker. Keep a tail long enough to catch a marker
			// split across this boundary, emit the rest as content.
			keep := longestMarkerPrefixSuffix(combined, open)
			ic.tail = combined[len(combined)-keep:]
			return Result{Content: ic.emittable(combined[:len(combined)-keep])}
		}

		// Found the marker: everything before it is plain content, the
		// rest (including the marker) starts the buffered block.
		before := combined[:idx]
		ic.state = stateBuffering
		ic.buf.Reset()
		ic.buf.WriteString(combined[idx:])
		return ic.checkBuffer(before)
	}

	ic.buf.WriteString(delta)
	return ic.checkBuffer("")
}

// longestMarkerPrefixSuffix returns the length of the longest suffix of s
// that is a proper prefix of marker (so it could still become marker
// with more bytes appended). It never exceeds len(marker)-1.
func longestMarkerPrefixSuffix(s, marker string) int {
	limit := len(marker) - 1
	if limit > len(s) {
		limit = len(s)
	}
	for n := limit; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

func (ic *Interceptor) checkBuffer(leadingContent string) Result {
	buffered := ic.buf.String()
	closeMark := ic.closeMarker()

	closeIdx := strings.Index(buffered, closeMark)
	if closeIdx < 0 {
		if len(buffered) > maxBufferBytes {
			// False positive: give up, flush what we have as raw content
			// rather than hold it forever, and resume normal scanning.
			ic.state = stateContent
			ic.buf.Reset()
			return Result{Content: ic.emittable(leadingContent + buffered), Drifted: true}
		}
		return Result{Content: ic.emittable(leadingContent)}
	}

	block := buffered[:closeIdx+len(closeMark)]
	remainder := buffered[closeIdx+len(closeMark):]

	// Text before the marker precedes this block's calls, so it is judged
	// against the latch as it stood before them.
	lead := ic.emittable(leadingContent)
	calls := ic.parseBlock(block)
	if len(calls) > 0 {
		ic.hasEmittedToolCall = true
	}

	ic.state = stateContent
	ic.buf.Reset()

	result := Result{Content: lead, ToolCalls: calls}
	if remainder != "" {
		// Rare but possible: the vendor packed trailing content (or a
		// second block) into the same fragment as the close marker.
		next := ic.Feed(remainder)
		result.Content += next.Content
		result.ToolCalls = append(result.ToolCalls, next.ToolCalls...)
		result.Drifted = result.Drifted || next.Drifted
	}
	return result
}

// Flush returns any content still sitting in the tail/content buffer
// when the underlying stream ends — the open-marker lookahead tail from
// Feed, or (if a block was left unclosed) the whole buffered block,
// marked as drift so the caller can log it.
func (ic *Interceptor) Flush() Result {
	if ic.state == stateContent {
		tail := ic.tail
		ic.tail = ""
		return Result{Content: ic.emittable(tail)}
	}
	buffered := ic.buf.String()
	ic.state = stateContent
	ic.buf.Reset()
	if buffered == "" {
		return Result{}
	}
	return Result{Content: ic.emittable(buffered), Drifted: true}
}

// FinishReason returns the terminal finish_reason for the stream this
// Interceptor has processed so far.
func (ic *Interceptor) FinishReason() string {
	if ic.hasEmittedToolCall {
		return "tool_calls"
	}
	return "stop"
}

// parseBlock extracts the tool calls from a complete block (open marker
// through close marker, inclusive) according to ic.form. Arguments are
// copied byte-for-byte from the source text — never re-serialized —
// per the gateway's idempotent-parse guarantee.
func (ic *Interceptor) parseBlock(block string) []chatapi.ToolCall {
	if ic.form == FormXML {
		return ic.parseXMLBlock(block)
	}
	return ic.parseBracketBlock(block)
}

func (ic *Interceptor) parseBracketBlock(block string) []chatapi.ToolCall {
	matches := callRe.FindAllStringSubmatch(block, -1)
	calls := make([]chatapi.ToolCall, 0, len(matches))
	for _, m := range matches {
		calls = append(calls, ic.newToolCall(m[1], m[2]))
	}
	return calls
}

func (ic *Interceptor) parseXMLBlock(block string) []chatapi.ToolCall {
	nameMatch := toolUseNameRe.FindStringSubmatch(block)
	argsMatch := toolUseArgsRe.FindStringSubmatch(block)
	if nameMatch == nil {
		return nil
	}
	args := ""
	if argsMatch != nil {
		args = argsMatch[1]
	}
	return []chatapi.ToolCall{ic.newToolCall(strings.TrimSpace(nameMatch[1]), args)}
}

func (ic *Interceptor) newToolCall(name, arguments string) chatapi.ToolCall {
	tc := chatapi.ToolCall{
		Index: ic.callID,
		ID:    fmt.Sprintf("call_%d", ic.callID),
		Type:  "function",
		Function: chatapi.ToolCallFunc{
			Name:      name,
			Arguments: arguments,
		},
	}
	ic.callID++
	return tc
}

// ParseComplete extracts tool calls from a fully-buffered (non-streaming)
// response body in one pass, returning the content with every detected
// block removed and the tool calls found inside them. Used by adapters
// whose vendor has no streaming mode and always returns a single body.
// Its result is defined to be identical to what streaming Feed/Flush
// calls over the same text, concatenated, would have produced.
func ParseComplete(form Form, text string) (content string, calls []chatapi.ToolCall) {
	ic := New(form)
	var sb strings.Builder
	r := ic.Feed(text)
	sb.WriteString(r.Content)
	calls = append(calls, r.ToolCalls...)
	f := ic.Flush()
	sb.WriteString(f.Content)
	calls = append(calls, f.ToolCalls...)
	return sb.String(), calls
}
