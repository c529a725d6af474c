package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MCPRequestLogger returns middleware that logs MCP JSON-RPC tool calls.
// It parses request and response bodies to surface the tool name, sanitized
// arguments, and error details. Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("failed to read MCP request body", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

			// Not every request is a tool call; parse best-effort.
			var rpcReq jsonRPCRequest
			_ = json.Unmarshal(bodyBytes, &rpcReq)

			logger.Debug("MCP request",
				zap.String("method", rpcReq.Method),
				zap.String("tool", rpcReq.Params.Name),
				zap.Any("arguments", sanitizeArguments(rpcReq.Params.Arguments)),
			)

			recorder := &mcpResponseRecorder{
				ResponseWriter: w,
				body:           &bytes.Buffer{},
			}
			start := time.Now()

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)

			var rpcResp jsonRPCResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &rpcResp); err != nil {
				return
			}

			if rpcResp.Error != nil {
				logger.Debug("MCP response error",
					zap.String("tool", rpcReq.Params.Name),
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", rpcResp.Error.Message),
					zap.Duration("duration", duration),
				)
				return
			}
			logger.Debug("MCP response success",
				zap.String("tool", rpcReq.Params.Name),
				zap.Duration("duration", duration),
			)
		})
	}
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result any           `json:"result"`
	Error  *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder captures the response body alongside writing it.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// sensitiveKeywords are matched as substrings of argument names. Plain "key"
// is deliberately absent: entity keys are arguments here, not secrets.
var sensitiveKeywords = []string{"password", "secret", "token", "api_key", "credential"}

// sanitizeArguments redacts sensitive fields and truncates long values so
// query text does not bloat the log.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	result := make(map[string]any, len(args))
	for k, v := range args {
		lowerKey := strings.ToLower(k)
		redacted := false
		for _, keyword := range sensitiveKeywords {
			if strings.Contains(lowerKey, keyword) {
				result[k] = "[REDACTED]"
				redacted = true
				break
			}
		}
		if redacted {
			continue
		}

		if str, ok := v.(string); ok && len(str) > 200 {
			result[k] = str[:200] + "..."
		} else {
			result[k] = v
		}
	}

	return result
}
