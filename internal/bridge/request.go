package bridge

import "strings"

// DefaultLanguage is used when a transcribe request carries no language code.
const DefaultLanguage = "en"

type Op int

const (
	OpInitialize Op = iota + 1
	OpTranscribe
	OpRelease
)

func (o Op) String() string {
	switch o {
	case OpInitialize:
		return "initialize"
	case OpTranscribe:
		return "transcribe"
	case OpRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Request is one unit of work for the bridge. It shares no state with other requests.
type Request struct {
	Op        Op
	ModelPath string
	AudioPath string
	Language  string
}

func Initialize(modelPath string) Request {
	return Request{Op: OpInitialize, ModelPath: modelPath}
}

func Transcribe(audioPath, language string) Request {
	return Request{Op: OpTranscribe, AudioPath: audioPath, Language: language}
}

func Release() Request {
	return Request{Op: OpRelease}
}

// Response carries the outcome of one Request. Err is a *Error on failure.
type Response struct {
	Op     Op
	Loaded bool
	Text   string
	Err    error
}

// validate rejects requests that cannot reach the engine and fills defaults.
func (r Request) validate() (Request, *Error) {
	switch r.Op {
	case OpInitialize:
		if strings.TrimSpace(r.ModelPath) == "" {
			return r, newError(KindInvalidArgument, r.Op, "modelPath is required")
		}
	case OpTranscribe:
		if strings.TrimSpace(r.AudioPath) == "" {
			return r, newError(KindInvalidArgument, r.Op, "audioPath is required")
		}
		r.Language = normalizeLanguage(r.Language)
	case OpRelease:
	default:
		return r, newError(KindUnknownCall, r.Op, "unsupported operation")
	}
	return r, nil
}

func normalizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return DefaultLanguage
	}
	return trimmed
}
