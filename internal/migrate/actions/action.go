// Package actions contains the transform/load action framework and the
// concrete actions that replay source transactions into the target schema.
//
// A transform action classifies a raw transaction group and converts it into
// a load action; the load action resolves identifiers against the migration
// state store and produces the ordered row operations the executor applies.
package actions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/txmigrate/txmigrate/internal/extract"
)

var (
	// ErrDataShape reports a transformed payload that does not match the
	// target action's expected shape. Fatal for the transaction group.
	ErrDataShape = errors.New("payload does not match action data shape")

	// ErrReference reports a required cross-entity lookup that found nothing
	// in the state store. Fatal for the transaction group.
	ErrReference = errors.New("reference not found in migration state")

	// ErrInvariant reports a broken parent/draft/record consistency
	// assertion. Fatal for the transaction group, and a signal of deeper
	// corruption worth escalating on.
	ErrInvariant = errors.New("migration invariant violated")
)

// Generator computes a primary key for an attribute payload. Generators must
// be pure or opaque (sequence, uuid); they are invoked once, before any
// persistence.
type Generator func(attr map[string]any) any

// PKRule assigns a generated primary key at a path inside a named attribute
// of the action's payload, unless a value is already set.
type PKRule struct {
	Attr string
	Path string
	Gen  Generator
}

// base carries what every load action shares: identity, provenance, and the
// primary-key generation step.
type base struct {
	name          string
	tx            *extract.Tx
	transformName string
	attrs         map[string]map[string]any
	pks           []PKRule
}

// Name identifies the action in diagnostics.
func (b *base) Name() string { return b.name }

// TransformName identifies the transform that built this action.
func (b *base) TransformName() string { return b.transformName }

// Tx returns the originating transaction group, or nil.
func (b *base) Tx() *extract.Tx { return b.tx }

// generatePKs applies the action's primary-key rules. A missing attribute or
// path is logged and skipped, not fatal; already-set keys are preserved, so
// running the step twice never reallocates.
func (b *base) generatePKs() {
	for _, rule := range b.pks {
		attr, ok := b.attrs[rule.Attr]
		if !ok || attr == nil {
			log.Warn().Str("action", b.name).Str("attr", rule.Attr).Msg("attribute not found, skipping pk rule")
			continue
		}
		if err := setPathIfMissing(attr, rule.Path, rule.Gen); err != nil {
			log.Warn().Err(err).Str("action", b.name).Str("attr", rule.Attr).Str("path", rule.Path).Msg("skipping pk rule")
		}
	}
}

// setPathIfMissing walks a dotted path inside a nested map payload and fills
// the leaf with gen(attr) when the leaf is absent or empty.
func setPathIfMissing(attr map[string]any, path string, gen Generator) error {
	parts := strings.Split(path, ".")
	m := attr
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part]
		if !ok {
			return fmt.Errorf("path %q not found on payload", path)
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q does not lead to an object", path)
		}
		m = childMap
	}
	leaf := parts[len(parts)-1]
	if existing, ok := m[leaf]; ok && !isEmptyValue(existing) {
		return nil
	}
	m[leaf] = gen(attr)
	return nil
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	default:
		return false
	}
}

// requireAttrs validates that every named payload attribute is present,
// returning a data-shape error naming the missing ones.
func requireAttrs(action string, attrs map[string]map[string]any, names ...string) error {
	var missing []string
	for _, name := range names {
		if attrs[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: missing %s", action, ErrDataShape, strings.Join(missing, ", "))
	}
	return nil
}

// Payload field helpers. Feed payloads arrive as decoded JSON, so numbers may
// be float64 and nested objects map[string]any.

func strField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	sub, _ := m[key].(map[string]any)
	return sub
}

func intField(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// nullable maps the empty string to NULL so fresh rows do not carry empty
// strings in nullable identifier columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
