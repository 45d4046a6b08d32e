// Package channel exposes the bridge as a named method channel: JSON method
// calls over a WebSocket, one reply per call.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Name is the channel the speech engine is registered under.
const Name = "com.armhack/whisper"

const (
	MethodInitWhisper = "initWhisper"
	MethodTranscribe  = "transcribe"
	MethodFreeWhisper = "freeWhisper"
)

const CodeInvalidArgs = "INVALID_ARGS"

var ErrNotImplemented = errors.New("channel: method not implemented")

// Call is one inbound method invocation.
type Call struct {
	ID      string         `json:"id"`
	Channel string         `json:"channel,omitempty"`
	Method  string         `json:"method"`
	Args    map[string]any `json:"args,omitempty"`
}

// Reply answers exactly one Call. Exactly one of Result, Error and
// NotImplemented is meaningful.
type Reply struct {
	ID             string          `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *ReplyError     `json:"error,omitempty"`
	NotImplemented bool            `json:"notImplemented,omitempty"`
}

type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// CallError is a failed call as seen by a Client.
type CallError struct {
	Method  string
	Code    string
	Message string
	Details any
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}
