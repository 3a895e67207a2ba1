package main

// Blank-imported so each vendor package's init() registers its
// vendor.Factory with internal/llm/vendor's registry.
import (
	_ "github.com/chatgw/gateway/internal/llm/vendor/deepseek"
	_ "github.com/chatgw/gateway/internal/llm/vendor/glm"
	_ "github.com/chatgw/gateway/internal/llm/vendor/kimi"
	_ "github.com/chatgw/gateway/internal/llm/vendor/minimax"
	_ "github.com/chatgw/gateway/internal/llm/vendor/qwen"
	_ "github.com/chatgw/gateway/internal/llm/vendor/qwenai"
	_ "github.com/chatgw/gateway/internal/llm/vendor/zai"
)
