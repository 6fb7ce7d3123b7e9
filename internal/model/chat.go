package model

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ChatRequest is the widget's request body.
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatAnswer is the success body of /api/chat.
type ChatAnswer struct {
	OK     bool   `json:"ok"`
	Answer string `json:"answer"`
}

// StatusMessage is returned by the GET liveness probes.
type StatusMessage struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type chatRequestWire struct {
	Question json.RawMessage `json:"question"`
}

// ParseChatRequest reads the question from raw, which must already be valid
// JSON. The result is trimmed. Falsy values (absent, null, false, 0, "")
// yield an empty question; non-zero numbers and true are taken as text.
// Objects and arrays never carry a question.
func ParseChatRequest(raw []byte) ChatRequest {
	if !isJSONObject(raw) {
		return ChatRequest{}
	}
	var w chatRequestWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return ChatRequest{}
	}
	return ChatRequest{Question: strings.TrimSpace(coerceText(w.Question))}
}

func coerceText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		s, _ := jsonString(trimmed)
		return s
	case 't':
		return "true"
	case 'f', 'n', '{', '[':
		return ""
	default:
		f, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil || f == 0 {
			return ""
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
