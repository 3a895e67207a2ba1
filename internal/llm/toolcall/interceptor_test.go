package toolcall

import (
	"strings"
	"testing"
)

func feedAll(t *testing.T, ic *Interceptor, chunks []string) (string, int) {
	t.Helper()
	var content strings.Builder
	calls := 0
	for _, c := range chunks {
		r := ic.Feed(c)
		content.WriteString(r.Content)
		calls += len(r.ToolCalls)
	}
	r := ic.Flush()
	content.WriteString(r.Content)
	calls += len(r.ToolCalls)
	return content.String(), calls
}

func TestInterceptor_PassesPlainContentThrough(t *testing.T) {
	ic := New(FormBracket)
	content, calls := feedAll(t, ic, []string{"hello ", "world"})
	if content != "hello world" {
		t.Fatalf("content = %q", content)
	}
	if calls != 0 {
		t.Fatalf("expected no tool calls, got %d", calls)
	}
	if ic.FinishReason() != "stop" {
		t.Fatalf("expected finish reason stop, got %q", ic.FinishReason())
	}
}

func TestInterceptor_ParsesSingleBracketCallInOneChunk(t *testing.T) {
	ic := New(FormBracket)
	block := `sure [function_calls][call:search]{"q":"go"}[/call][/function_calls]`

	r := ic.Feed(block)
	flush := ic.Flush()

	content := r.Content + flush.Content

	if !strings.Contains(content, "sure") {
		t.Fatalf("expected leading content preserved, got %q", content)
	}
	if strings.Contains(content, "function_calls") || strings.Contains(content, "[call:") {
		t.Fatalf("expected markup stripped from content, got %q", content)
	}
	if len(r.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(r.ToolCalls))
	}
	if r.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("expected call name search, got %q", r.ToolCalls[0].Function.Name)
	}
	if r.ToolCalls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("expected byte-exact arguments, got %q", r.ToolCalls[0].Function.Arguments)
	}
	if ic.FinishReason() != "tool_calls" {
		t.Fatalf("expected finish reason tool_calls, got %q", ic.FinishReason())
	}
}

func TestInterceptor_ArgumentsAreByteExactNoReserialization(t *testing.T) {
	ic := New(FormBracket)
	// Deliberately unusual JSON formatting (extra spaces, unordered keys)
	// that a round-trip through encoding/json would normalize away.
	raw := `{ "b": 2,   "a": 1 }`
	block := "[function_calls][call:f]" + raw + "[/call][/function_calls]"
	r := ic.Feed(block)
	if len(r.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(r.ToolCalls))
	}
	if r.ToolCalls[0].Function.Arguments != raw {
		t.Fatalf("expected byte-exact arguments %q, got %q", raw, r.ToolCalls[0].Function.Arguments)
	}
}

func TestInterceptor_HandlesMarkerSplitAcrossEveryCutPoint(t *testing.T) {
	full := `hi [function_calls][call:noop]{}[/call][/function_calls] bye`

	for cut := 1; cut < len(full); cut++ {
		ic := New(FormBracket)
		content, calls := feedAll(t, ic, []string{full[:cut], full[cut:]})
		if calls != 1 {
			t.Fatalf("cut=%d: expected 1 tool call, got %d (content=%q)", cut, calls, content)
		}
		if !strings.Contains(content, "hi") {
			t.Fatalf("cut=%d: expected leading content preserved, got %q", cut, content)
		}
		if strings.Contains(content, "[function_calls]") || strings.Contains(content, "[call:") {
			t.Fatalf("cut=%d: marker leaked into content: %q", cut, content)
		}
	}
}

func TestInterceptor_ByteByByteStreamingStillParses(t *testing.T) {
	full := `[function_calls][call:search]{"q":"go modules"}[/call][/function_calls]`
	ic := New(FormBracket)
	chunks := make([]string, 0, len(full))
	for _, r := range full {
		chunks = append(chunks, string(r))
	}
	_, calls := feedAll(t, ic, chunks)
	if calls != 1 {
		t.Fatalf("expected 1 tool call from byte-by-byte stream, got %d", calls)
	}
}

func TestInterceptor_UnterminatedBlockFlushesAsDriftOnCap(t *testing.T) {
	ic := New(FormBracket)
	ic.Feed("[function_calls]")
	huge := strings.Repeat("x", maxBufferBytes+10)
	r := ic.Feed(huge)
	if !r.Drifted {
		t.Fatal("expected drift flag once buffer exceeds the safety cap")
	}
	if len(r.Content) == 0 {
		t.Fatal("expected drifted content to be flushed, not dropped")
	}
}

func TestInterceptor_MultipleCallsInOneBlock(t *testing.T) {
	ic := New(FormBracket)
	block := `[function_calls][call:a]{"x":1}[/call][call:b]{"y":2}[/call][/function_calls]`
	r := ic.Feed(block)
	if len(r.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(r.ToolCalls))
	}
	if r.ToolCalls[0].Function.Name != "a" || r.ToolCalls[1].Function.Name != "b" {
		t.Fatalf("unexpected call order: %+v", r.ToolCalls)
	}
	if r.ToolCalls[0].ID == r.ToolCalls[1].ID {
		t.Fatal("expected distinct call IDs")
	}
	if r.ToolCalls[0].Index == r.ToolCalls[1].Index {
		t.Fatal("expected distinct call indices")
	}
}

func TestInterceptor_NoContentEmittedAfterFirstToolCall(t *testing.T) {
	ic := New(FormBracket)
	ic.Feed(`[function_calls][call:a]{}[/call][/function_calls]`)
	r := ic.Feed("trailing text that should be dropped")
	if r.Content != "" {
		t.Fatalf("expected content after a tool call to be silently dropped, got %q", r.Content)
	}
	flush := ic.Flush()
	if flush.Content != "" {
		t.Fatalf("expected flush content after a tool call to be silently dropped, got %q", flush.Content)
	}
}

func TestInterceptor_XMLForm_ParsesToolUseBlock(t *testing.T) {
	ic := New(FormXML)
	block := `before <tool_use><name>get_weather</name><arguments>{"city":"Paris"}</arguments></tool_use> after`
	r := ic.Feed(block)
	flush := ic.Flush()

	if len(r.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(r.ToolCalls))
	}
	if r.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("expected name get_weather, got %q", r.ToolCalls[0].Function.Name)
	}
	if r.ToolCalls[0].Function.Arguments != `{"city":"Paris"}` {
		t.Fatalf("expected byte-exact arguments, got %q", r.ToolCalls[0].Function.Arguments)
	}
	if !strings.Contains(r.Content, "before") {
		t.Fatalf("expected leading content preserved, got %q", r.Content)
	}
	_ = flush
}

func TestInterceptor_XMLForm_SplitAcrossEveryCutPoint(t *testing.T) {
	full := `hi <tool_use><name>noop</name><arguments>{}</arguments></tool_use> bye`
	for cut := 1; cut < len(full); cut++ {
		ic := New(FormXML)
		content, calls := feedAll(t, ic, []string{full[:cut], full[cut:]})
		if calls != 1 {
			t.Fatalf("cut=%d: expected 1 tool call, got %d (content=%q)", cut, calls, content)
		}
	}
}

func TestParseComplete_BracketFormExtractsToolCalls(t *testing.T) {
	text := `answer text [function_calls][call:get_time]{}[/call][/function_calls]`
	content, calls := ParseComplete(FormBracket, text)
	if len(calls) != 1 || calls[0].Function.Name != "get_time" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if !strings.Contains(content, "answer text") {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestParseComplete_NoBlockReturnsTextUnchanged(t *testing.T) {
	content, calls := ParseComplete(FormBracket, "just plain text")
	if content != "just plain text" || calls != nil {
		t.Fatalf("unexpected result: %q, %v", content, calls)
	}
}

func TestParseComplete_MatchesStreamingEmissionForSameText(t *testing.T) {
	text := `sure [function_calls][call:search]{"q":"go"}[/call][/function_calls]`

	streamed := New(FormBracket)
	var streamedContent strings.Builder
	var streamedCalls int
	r := streamed.Feed(text)
	streamedContent.WriteString(r.Content)
	streamedCalls += len(r.ToolCalls)
	f := streamed.Flush()
	streamedContent.WriteString(f.Content)
	streamedCalls += len(f.ToolCalls)

	content, calls := ParseComplete(FormBracket, text)
	if content != streamedContent.String() {
		t.Fatalf("content mismatch: streaming=%q non-streaming=%q", streamedContent.String(), content)
	}
	if len(calls) != streamedCalls {
		t.Fatalf("tool call count mismatch: streaming=%d non-streaming=%d", streamedCalls, len(calls))
	}
}
