// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// payload is a decoded JSON object. Fields are read through accessors that
// accept several alias keys, first match wins.
type payload map[string]any

// decodePayload reads the request body as a JSON object. An empty body is an
// empty object. On failure it returns the message to send back.
func decodePayload(w http.ResponseWriter, r *http.Request) (payload, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "Request body is too large."
		}
		return nil, "Invalid JSON body."
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return payload{}, ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, "Invalid JSON body."
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, "Expected a JSON object."
	}
	return payload(obj), ""
}

// has reports whether key is present, even with a null value.
func (p payload) has(key string) bool {
	_, ok := p[key]
	return ok
}

// str returns the first non-empty string among keys, or "".
func (p payload) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := p[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// trimmed is str with surrounding whitespace removed.
func (p payload) trimmed(keys ...string) string {
	return strings.TrimSpace(p.str(keys...))
}

// truthy reports whether the first truthy value among keys reads as true.
func (p payload) truthy(keys ...string) bool {
	for _, k := range keys {
		if v, ok := p[k]; ok && isTruthy(v) {
			return toBool(v)
		}
	}
	return false
}

// flag returns the boolean value of the first present key, or nil when none
// is present.
func (p payload) flag(keys ...string) *bool {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			b := toBool(v)
			return &b
		}
	}
	return nil
}

// text returns the value of the first present key as lower-cased trimmed
// text, or nil when none is present.
func (p payload) text(keys ...string) *string {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			s := ""
			if isTruthy(v) {
				s = stringify(v)
			}
			s = strings.ToLower(strings.TrimSpace(s))
			return &s
		}
	}
	return nil
}

// list returns key as a list of strings. present is false when key is absent
// or null. A non-list value yields an empty list.
func (p payload) list(key string) (items []string, present bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return []string{}, true
	}
	items = make([]string, 0, len(raw))
	for _, item := range raw {
		if isTruthy(item) {
			items = append(items, stringify(item))
		} else {
			items = append(items, "")
		}
	}
	return items, true
}

// toBool accepts JSON booleans and the strings 1, true, yes and on.
func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}
