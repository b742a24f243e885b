package types

import (
	"bytes"
	"encoding/json"
)

// ------------------------------
// Response Types
// ------------------------------

// Envelope is the backend's common response wrapper:
// {success, data, error?, message?}.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// HasData reports whether the envelope carries a non-null data field.
func (e Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// messagesPage is the nested shape {messages: [...]} of the history endpoint.
type messagesPage struct {
	Messages []Message `json:"messages"`
}

// DecodeMessages accepts both {data: {messages: [...]}} and {data: [...]}.
func DecodeMessages(data json.RawMessage) ([]Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []Message
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var page messagesPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// UnreadCount is the payload of notifications/unread-count.
type UnreadCount struct {
	Unread int `json:"unread"`
}

// DecodeList accepts a bare array or an object wrapping the array under one
// of keys, e.g. {notifications: [...]} or {items: [...]}.
func DecodeList[T any](data json.RawMessage, keys ...string) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			return DecodeList[T](raw)
		}
	}
	return nil, nil
}
