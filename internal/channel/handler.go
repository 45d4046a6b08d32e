package channel

import (
	"errors"

	"github.com/armhack/whisperbridge/internal/bridge"
	"go.uber.org/zap"
)

// Result receives the single outcome of a method call. Implementations may be
// called from any goroutine.
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()
}

// MethodCallHandler is attached to a Server to serve its channel.
type MethodCallHandler interface {
	OnMethodCall(call Call, result Result)
}

// Submitter queues bridge requests. *bridge.Bridge implements it.
type Submitter interface {
	Submit(req bridge.Request) <-chan bridge.Response
}

// Handler translates channel calls into bridge requests. It never blocks on
// the engine: results are delivered from a goroutine once the bridge replies.
type Handler struct {
	bridge Submitter
	log    *zap.Logger
}

func NewHandler(s Submitter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{bridge: s, log: logger.With(zap.String("component", "channel.handler"))}
}

func (h *Handler) OnMethodCall(call Call, result Result) {
	var req bridge.Request
	switch call.Method {
	case MethodInitWhisper:
		modelPath, msg := requiredString(call.Args, "modelPath")
		if msg != "" {
			result.Error(CodeInvalidArgs, msg, nil)
			return
		}
		req = bridge.Initialize(modelPath)
	case MethodTranscribe:
		audioPath, msg := requiredString(call.Args, "audioPath")
		if msg != "" {
			result.Error(CodeInvalidArgs, msg, nil)
			return
		}
		language, msg := optionalString(call.Args, "language")
		if msg != "" {
			result.Error(CodeInvalidArgs, msg, nil)
			return
		}
		req = bridge.Transcribe(audioPath, language)
	case MethodFreeWhisper:
		req = bridge.Release()
	default:
		h.log.Debug("unknown method", zap.String("method", call.Method))
		result.NotImplemented()
		return
	}

	replies := h.bridge.Submit(req)
	go h.deliver(call, replies, result)
}

func (h *Handler) deliver(call Call, replies <-chan bridge.Response, result Result) {
	resp, ok := <-replies
	if !ok {
		h.log.Debug("call cancelled; no reply", zap.String("method", call.Method), zap.String("id", call.ID))
		return
	}

	if resp.Err != nil {
		kind := bridge.KindOf(resp.Err)
		if kind == bridge.KindUnknownCall {
			result.NotImplemented()
			return
		}
		message := resp.Err.Error()
		var be *bridge.Error
		if errors.As(resp.Err, &be) {
			message = be.Message()
		}
		result.Error(kind.Code(), message, nil)
		return
	}

	switch resp.Op {
	case bridge.OpInitialize:
		result.Success(resp.Loaded)
	case bridge.OpTranscribe:
		result.Success(resp.Text)
	default:
		result.Success(nil)
	}
}

func requiredString(args map[string]any, key string) (string, string) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", key + " is required"
	}
	value, ok := raw.(string)
	if !ok {
		return "", key + " must be a string"
	}
	if value == "" {
		return "", key + " is required"
	}
	return value, ""
}

func optionalString(args map[string]any, key string) (string, string) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", ""
	}
	value, ok := raw.(string)
	if !ok {
		return "", key + " must be a string"
	}
	return value, ""
}
