// Package handlers implements the gin route handlers behind the gateway's
// OpenAI-compatible API, translating between chatapi's OpenAI wire types
// and the normalized vendor.Request/StreamEvent shapes the forwarder and
// adapters speak.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatgw/gateway/internal/domain/model"
	"github.com/chatgw/gateway/internal/httpapi"
	"github.com/chatgw/gateway/internal/llm/chatapi"
	"github.com/chatgw/gateway/internal/llm/vendor"
)

// ChatCompletions handles POST /v1/chat/completions.
func ChatCompletions(deps httpapi.Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer deps.BeginRequest()()

		var req chatapi.ChatCompletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(err.Error(), "invalid_request_error", ""))
			return
		}
		if len(req.Messages) == 0 {
			c.JSON(http.StatusBadRequest, errorBody("messages array must not be empty", "invalid_request_error", ""))
			return
		}

		providerID, info, adapter, ok := deps.ResolveModel(c.Request.Context(), req.Model)
		if !ok {
			if adapter == nil && providerID != "" {
				c.JSON(http.StatusServiceUnavailable, errorBody(
					fmt.Sprintf("provider %q has no adapter wired in", providerID), "server_error", ""))
				return
			}
			c.JSON(http.StatusNotFound, errorBody(
				fmt.Sprintf("model %q is not served by any enabled provider", req.Model), "invalid_request_error", "model_not_found"))
			return
		}
		if len(req.Tools) > 0 && !info.SupportsTools {
			c.JSON(http.StatusBadRequest, errorBody(
				fmt.Sprintf("model %q does not support tool calling", req.Model), "invalid_request_error", ""))
			return
		}

		vreq := vendor.Request{
			Model:           info.UpstreamModel,
			Messages:        req.Messages,
			Tools:           req.Tools,
			Temperature:     req.Temperature,
			MaxTokens:       req.MaxTokens,
			Stream:          req.Stream,
			WebSearch:       req.WebSearch,
			ReasoningEffort: req.ReasoningEffort,
			DeepResearch:    req.DeepResearch,
		}
		requestID := uuid.NewString()

		if req.Stream {
			streamChatCompletion(c, deps, providerID, adapter, vreq, requestID, req.Model)
			return
		}
		sendChatCompletion(c, deps, providerID, adapter, vreq, requestID, req.Model)
	}
}

func sendChatCompletion(c *gin.Context, deps httpapi.Deps, providerID model.ProviderID, adapter vendor.Adapter, vreq vendor.Request, requestID, publicModel string) {
	resp, err := deps.Forwarder.Send(c.Request.Context(), providerID, adapter, vreq, requestID)
	if err != nil {
		writeForwardError(c, err)
		return
	}
	resp.Model = publicModel
	if resp.ID == "" {
		resp.ID = "chatcmpl-" + requestID
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	c.JSON(http.StatusOK, resp)
}

func streamChatCompletion(c *gin.Context, deps httpapi.Deps, providerID model.ProviderID, adapter vendor.Adapter, vreq vendor.Request, requestID, publicModel string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	completionID := "chatcmpl-" + requestID
	created := time.Now().Unix()
	wroteRole := false

	emit := func(ev vendor.StreamEvent) error {
		choice := chatapi.StreamChoice{Index: 0}
		if !wroteRole {
			choice.Delta.Role = "assistant"
			wroteRole = true
		}
		choice.Delta.Content = ev.ContentDelta
		choice.Delta.ReasoningContent = ev.ReasoningDelta
		choice.Delta.ToolCalls = ev.ToolCalls
		if ev.FinishReason != "" {
			reason := ev.FinishReason
			choice.FinishReason = &reason
		}

		chunk := chatapi.StreamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   publicModel,
			Choices: []chatapi.StreamChoice{choice},
			Usage:   ev.Usage,
		}
		writeSSEChunk(c.Writer, chunk)
		c.Writer.Flush()
		return nil
	}

	if err := deps.Forwarder.Stream(c.Request.Context(), providerID, adapter, vreq, requestID, emit); err != nil {
		deps.Logger.Warn("stream forward failed", zap.String("provider", string(providerID)), zap.Error(err))
		// spec.md §7: a mid-flight stream error still produces a
		// well-formed terminal chunk instead of dropping the client into
		// a truncated stream — finish_reason=stop plus an inline error
		// suffix, then [DONE] as usual.
		emitErr(c, requestID, publicModel, created, &wroteRole, err)
	}

	io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// emitErr writes the terminal chunk spec.md §7 requires for a mid-flight
// streaming failure: finish_reason="stop" plus an inline "\nError: <msg>"
// content suffix, so the client sees a well-formed stream rather than one
// that simply stops short.
func emitErr(c *gin.Context, requestID, publicModel string, created int64, wroteRole *bool, streamErr error) {
	choice := chatapi.StreamChoice{Index: 0}
	if !*wroteRole {
		choice.Delta.Role = "assistant"
		*wroteRole = true
	}
	choice.Delta.Content = "\nError: " + streamErr.Error()
	reason := "stop"
	choice.FinishReason = &reason

	chunk := chatapi.StreamChunk{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   publicModel,
		Choices: []chatapi.StreamChoice{choice},
	}
	writeSSEChunk(c.Writer, chunk)
	c.Writer.Flush()
}

func errorBody(message, errType, code string) chatapi.ErrorBody {
	return chatapi.ErrorBody{Error: chatapi.ErrorDetail{Message: message, Type: errType, Code: code}}
}

func writeForwardError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	var ve *vendor.Error
	if errors.As(err, &ve) {
		switch ve.Kind {
		case vendor.KindAuthExpired:
			status = http.StatusUnauthorized
		case vendor.KindVendorBusy:
			status = http.StatusTooManyRequests
		case vendor.KindVendorReject:
			status = http.StatusBadRequest
		case vendor.KindInternalPolicy:
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, errorBody(err.Error(), "server_error", ""))
}
