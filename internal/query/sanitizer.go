// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package query

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/lumeo-analytics/lumeo/internal/logging"
)

// sanitizeFunc cleans one filter value. ok=false drops the key.
type sanitizeFunc func(value interface{}) (interface{}, bool)

// filterSanitizers maps filter keys to their value sanitizers. Keys without
// an entry fall back to numeric passthrough or generic string sanitization.
var filterSanitizers = map[string]sanitizeFunc{
	"page_url":  sanitizePagePath,
	"referrer":  sanitizeReferrer,
	"device":    sanitizeKeySafe,
	"browser":   sanitizeKeySafe,
	"platform":  sanitizeKeySafe,
	"page_id":   sanitizeInt,
	"page_type": sanitizePageType,
	"bounces":   sanitizeBounces,
	"country":   sanitizeCountry,
	"campaign":  sanitizeGenericString,
	"source":    sanitizeGenericString,
	"medium":    sanitizeGenericString,
}

// registeredPageTypes is the dynamic page-type enumeration. Content plugins
// register additional types at startup.
var (
	pageTypesMu         sync.RWMutex
	registeredPageTypes = map[string]struct{}{
		"page":    {},
		"post":    {},
		"archive": {},
		"home":    {},
		"search":  {},
	}
)

// RegisterPageType adds a page type to the dynamic enumeration used by the
// page_type filter sanitizer. Safe for concurrent use.
func RegisterPageType(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return
	}
	pageTypesMu.Lock()
	registeredPageTypes[name] = struct{}{}
	pageTypesMu.Unlock()
}

// SanitizeFilters converts a raw key-value filter mapping into a safe,
// validated mapping.
//
// Strict mode fails closed: keys outside the allowlist are dropped outright
// and every kept value passes its per-key sanitizer. Full mode keeps any
// key, applying a registered sanitizer when one exists and otherwise
// defaulting to numeric passthrough or generic string sanitization.
//
// A value of 0 or "0" is retained ("filter by zero"); only false and the
// empty string mean absence. Nested mappings and slices are sanitized
// recursively to support compound OR-style filters. Rejections log a
// diagnostic but never raise; the caller always receives a (possibly
// empty) clean mapping.
func SanitizeFilters(raw map[string]interface{}, allow *Allowlist, mode PrivilegeMode) map[string]interface{} {
	clean := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		if isAbsent(value) {
			continue
		}

		if mode == ModeStrict && !allow.AllowsFilterKey(key) {
			logging.Debug().
				Str("filter", key).
				Msg("Dropping filter key outside allowlist")
			continue
		}

		sanitized, ok := sanitizeValue(key, value, allow, mode)
		if !ok {
			logging.Debug().
				Str("filter", key).
				Msg("Dropping filter with unsanitizable value")
			continue
		}
		clean[key] = sanitized
	}
	return clean
}

// sanitizeValue applies the per-key rule, recursing into compound values.
func sanitizeValue(key string, value interface{}, allow *Allowlist, mode PrivilegeMode) (interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		nested := SanitizeFilters(v, allow, mode)
		if len(nested) == 0 {
			return nil, false
		}
		return nested, true
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, elem := range v {
			if isAbsent(elem) {
				continue
			}
			if s, ok := sanitizeValue(key, elem, allow, mode); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	}

	if fn, ok := filterSanitizers[key]; ok {
		return fn(value)
	}
	// Keys without a registered sanitizer get the generic treatment in
	// either mode; strict mode has already checked the allowlist.
	return sanitizeDefault(value)
}

// isAbsent reports whether a value means "no filter". Zero is a real
// filter value and is never treated as absent.
func isAbsent(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	default:
		return false
	}
}

// sanitizeDefault is numeric passthrough when numeric, generic string
// sanitization otherwise.
func sanitizeDefault(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case int, int32, int64, float32, float64:
		return v, true
	case bool:
		return v, true
	case string:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return v, true
		}
		return sanitizeGenericString(v)
	default:
		return nil, false
	}
}

// sanitizePagePath extracts the path component from a URL-ish value.
// "https://example.com/pricing/?x=1" becomes "/pricing/".
func sanitizePagePath(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return path, true
}

// sanitizeReferrer keeps only values that parse as a URL with a host,
// stored without the scheme.
func sanitizeReferrer(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return u.Host + u.Path, true
}

// sanitizeKeySafe lowercases and strips anything outside [a-z0-9_-].
func sanitizeKeySafe(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil, false
	}
	return b.String(), true
}

// sanitizeInt casts to a non-negative integer, the absint equivalent.
func sanitizeInt(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case int:
		return abs(v), true
	case int64:
		return abs(int(v)), true
	case float64:
		return abs(int(v)), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, false
		}
		return abs(n), true
	default:
		return nil, false
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// sanitizePageType checks the value against the registered page types.
func sanitizePageType(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	pageTypesMu.RLock()
	_, known := registeredPageTypes[s]
	pageTypesMu.RUnlock()
	if !known {
		return nil, false
	}
	return s, true
}

// sanitizeBounces accepts the bounce-handling enumeration.
func sanitizeBounces(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exclude":
		return "exclude", true
	case "include":
		return "include", true
	case "only":
		return "only", true
	default:
		return nil, false
	}
}

// sanitizeCountry accepts two-letter ISO country codes.
func sanitizeCountry(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 2 {
		return nil, false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return nil, false
		}
	}
	return s, true
}

// sanitizeGenericString strips control characters and SQL-meaningful quoting.
// Values are still bound as parameters; this is defense in depth for values
// that end up in logs and rendered report blocks.
func sanitizeGenericString(value interface{}) (interface{}, bool) {
	s, ok := asString(value)
	if !ok {
		return nil, false
	}
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == '\'' || r == '"' || r == '`' || r == ';' || r == '\\' {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return nil, false
	}
	return out, true
}

func asString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}
