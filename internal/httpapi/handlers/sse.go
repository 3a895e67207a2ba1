package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chatgw/gateway/internal/llm/chatapi"
)

// writeSSEChunk writes one "data: <json>\n\n" event, the framing every
// OpenAI-compatible streaming client expects.
func writeSSEChunk(w io.Writer, chunk chatapi.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
