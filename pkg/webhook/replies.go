package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ReplyKey is the literal (dotted) field name the webhook uses for reply text.
// It is a single key, not a nested path.
const ReplyKey = "output.respuesta"

// NoReplyText replaces an empty reply list.
const NoReplyText = "No recibí respuesta del webhook."

// replyShape is the tagged union of body shapes the webhook is known to return.
type replyShape interface {
	isReplyShape()
}

type arrayShape struct {
	elements []json.RawMessage
}

type objectShape struct {
	fields map[string]json.RawMessage
}

// scalarShape covers valid JSON that is neither an array nor an object.
type scalarShape struct{}

func (arrayShape) isReplyShape()  {}
func (objectShape) isReplyShape() {}
func (scalarShape) isReplyShape() {}

func decodeShape(raw []byte) (replyShape, bool) {
	if !json.Valid(raw) {
		return nil, false
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, false
		}
		return arrayShape{elements: elements}, true
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, false
		}
		return objectShape{fields: fields}, true
	default:
		return scalarShape{}, true
	}
}

// ParseReplies turns a raw webhook body into the list of reply texts.
//
// Precedence, first match wins:
//  1. body is not JSON: the raw body
//  2. array: every non-blank string ReplyKey of its elements, if any
//  3. object with a non-empty string ReplyKey: that string
//  4. object with a truthy "output", or array whose first element has one: that value
//  5. the raw body
func ParseReplies(raw []byte) []string {
	shape, ok := decodeShape(raw)
	if !ok {
		return []string{string(raw)}
	}

	if arr, ok := shape.(arrayShape); ok {
		var replies []string
		for _, el := range arr.elements {
			fields, ok := asObject(el)
			if !ok {
				continue
			}
			s, ok := asString(fields[ReplyKey])
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			replies = append(replies, s)
		}
		if len(replies) > 0 {
			return replies
		}
	}

	if obj, ok := shape.(objectShape); ok {
		if s, ok := asString(obj.fields[ReplyKey]); ok && s != "" {
			return []string{s}
		}
		if out, ok := obj.fields["output"]; ok && truthy(out) {
			return []string{renderValue(out)}
		}
	}

	if arr, ok := shape.(arrayShape); ok && len(arr.elements) > 0 {
		if first, ok := asObject(arr.elements[0]); ok {
			if out, ok := first["output"]; ok && truthy(out) {
				return []string{renderValue(out)}
			}
		}
	}

	return []string{string(raw)}
}

// WithFallback substitutes NoReplyText for an empty reply list.
func WithFallback(replies []string) []string {
	if len(replies) == 0 {
		return []string{NoReplyText}
	}
	return replies
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func asString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// truthy mirrors the loose truthiness the webhook integration relied on:
// null, false, 0 and "" are falsy, everything else (including {} and []) is truthy.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 'n', 'f':
		return false
	case 't', '{', '[':
		return true
	case '"':
		s, ok := asString(raw)
		return ok && s != ""
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0
	}
}

// renderValue prints strings as-is and any other JSON value as compact JSON.
func renderValue(raw json.RawMessage) string {
	if s, ok := asString(raw); ok {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
