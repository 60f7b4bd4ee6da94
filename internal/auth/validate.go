// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Field limits shared by signup and profile settings.
const (
	MaxInterests      = 5
	MaxInterestLength = 60
	MaxStatusLength   = 80
	MaxBioLength      = 160
	MaxLocationLength = 120
	MinNameLength     = 2
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,30}$`)

var reservedHandles = map[string]struct{}{
	"admin":         {},
	"support":       {},
	"profilespaces": {},
	"profile":       {},
	"settings":      {},
}

// ValidationError collects per-field messages. It is returned by operations
// whose input can be wrong in several places at once.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Has reports whether field has a message.
func (e *ValidationError) Has(field string) bool {
	_, ok := e.Fields[field]
	return ok
}

// Err returns e when it holds at least one message, otherwise nil.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ValidateHandle checks a username or profile URL handle and returns a
// user-facing message, or "" when it is acceptable. label names the field.
func ValidateHandle(handle, label string) string {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return label + " is required."
	}
	if !handlePattern.MatchString(handle) {
		return "Use 3-30 letters, numbers, or ._- in your username."
	}
	if _, reserved := reservedHandles[strings.ToLower(handle)]; reserved {
		return label + " is not available."
	}
	return ""
}

// ValidEmail reports whether email is a bare address.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// CleanInterests trims entries, drops empties and duplicates, truncates each to
// MaxInterestLength and keeps at most MaxInterests.
func CleanInterests(raw []string) []string {
	cleaned := make([]string, 0, MaxInterests)
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		text := strings.TrimSpace(item)
		if text == "" {
			continue
		}
		text = truncateRunes(text, MaxInterestLength)
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		cleaned = append(cleaned, text)
		if len(cleaned) >= MaxInterests {
			break
		}
	}
	return cleaned
}

// ValidateProfileText checks the free-text profile fields shared by signup
// and profile settings.
func ValidateProfileText(v *ValidationError, status, bio, location string, rawInterests []string) {
	if utf8.RuneCountInString(status) > MaxStatusLength {
		v.Add("status", fmt.Sprintf("Status must be %d characters or less.", MaxStatusLength))
	}
	if utf8.RuneCountInString(bio) > MaxBioLength {
		v.Add("bio", fmt.Sprintf("Bio must be %d characters or less.", MaxBioLength))
	}
	if utf8.RuneCountInString(location) > MaxLocationLength {
		v.Add("location", "Location is too long.")
	}
	if len(rawInterests) > MaxInterests {
		v.Add("interests", fmt.Sprintf("Add up to %d interests.", MaxInterests))
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
