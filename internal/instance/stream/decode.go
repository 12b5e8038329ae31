package stream

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
)

// exitMessages are status messages that mark the end of a run.
var exitMessages = []string{
	"Process exited",
	"Workflow Execution Complete",
	"Workflow cancelled",
}

// Message is one decoded stream frame.
type Message struct {
	Event instance.LogEvent
	// Exit is set when the frame signals the end of the run.
	Exit bool
}

type wireMessage struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Message json.RawMessage `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Decode turns a raw frame into a log event. It never fails: frames that are
// not a recognizable event become a single stdout event carrying the raw text.
func Decode(raw []byte) Message {
	if msg, ok := decodeObject(raw, true); ok {
		return msg
	}
	return Message{Event: instance.LogEvent{Kind: instance.KindStdout, Message: string(raw)}}
}

// decodeObject parses an event object. When unwrap is set a JSON string
// holding an object is decoded once more.
func decodeObject(raw []byte, unwrap bool) (Message, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, false
	}

	if trimmed[0] == '"' {
		if !unwrap {
			return Message{}, false
		}
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return Message{}, false
		}
		return decodeObject([]byte(inner), false)
	}
	if trimmed[0] != '{' {
		return Message{}, false
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, false
	}
	name := w.Type
	if name == "" {
		name = w.Kind
	}
	kind, ok := instance.ParseKind(name)
	if !ok {
		return Message{}, false
	}

	ev := instance.LogEvent{Kind: kind, Message: messageText(w.Message)}
	if len(w.Data) > 0 && !bytes.Equal(w.Data, []byte("null")) {
		ev.Data = append(json.RawMessage(nil), w.Data...)
	}

	return Message{Event: ev, Exit: isExit(ev)}, true
}

// messageText returns a JSON string's value, or the raw JSON for any other
// value.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func isExit(ev instance.LogEvent) bool {
	if ev.Kind != instance.KindStatus {
		return false
	}
	if slices.Contains(exitMessages, ev.Message) {
		return true
	}
	if len(ev.Data) == 0 {
		return false
	}
	var d struct {
		ExitCode *int `json:"exitCode"`
	}
	return json.Unmarshal(ev.Data, &d) == nil && d.ExitCode != nil
}
