// Package planner validates run parameters against a Tool's declared
// schema and renders the shell command and per-run artifacts that the
// Supervisor later executes.
package planner

import (
	"fmt"
	"strconv"
	"strings"
)

// Render expands a `{{name}}` template against a context of already
// rendered, shell-safe substitution strings. It is the single reusable
// renderer shared by command_template, TargetSpec.path_template, and
// setup_files.content_template, per the source's ad-hoc-template
// replacement.
func Render(template string, ctx map[string]string) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		rest = rest[start+2:]
		end := strings.Index(rest, "}}")
		if end < 0 {
			// No closing delimiter: emit the rest verbatim.
			b.WriteString("{{")
			b.WriteString(rest)
			break
		}
		name := strings.TrimSpace(rest[:end])
		b.WriteString(ctx[name])
		rest = rest[end+2:]
	}
	return b.String()
}

// escapeAllowlist sanitises a single scalar value for safe inclusion
// inside single quotes: letters, digits, and -_.+ pass through; every
// other rune is replaced with '_'.
func escapeAllowlist(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '+':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// quoteString sanitises then single-quotes a string value.
func quoteString(s string) string {
	return "'" + escapeAllowlist(s) + "'"
}

// RenderScalar renders one already-coerced parameter value into its
// shell-safe substitution text: strings are sanitised and single-quoted;
// numerics and booleans pass through unescaped; lists are expanded by
// rendering each element and joining with a space.
func RenderScalar(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return quoteString(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = quoteString(s)
		}
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("render scalar: unsupported value type %T", v)
	}
}

// RenderContext builds a {{name}} substitution context out of a resolved
// parameter bundle, rendering every value per RenderScalar.
func RenderContext(params map[string]any) (map[string]string, error) {
	ctx := make(map[string]string, len(params))
	for name, v := range params {
		rendered, err := RenderScalar(v)
		if err != nil {
			return nil, fmt.Errorf("render param %q: %w", name, err)
		}
		ctx[name] = rendered
	}
	return ctx, nil
}

// renderScalarUnquoted sanitises a value the same way RenderScalar does
// but without wrapping strings in shell quotes: used wherever the
// rendered text is consumed directly (a filesystem path, a setup file's
// contents) rather than interpreted by a shell, so the literal quote
// characters RenderScalar adds would corrupt it.
func renderScalarUnquoted(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return escapeAllowlist(val), nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = escapeAllowlist(s)
		}
		return strings.Join(parts, " "), nil
	default:
		return RenderScalar(v)
	}
}

// RenderContextUnquoted builds a {{name}} substitution context for
// surfaces that are not interpreted by a shell: TargetSpec.path_template
// and setup_files.content_template. It applies the same sanitisation as
// RenderContext but never adds surrounding quotes, since a path or file
// body should contain the sanitised value verbatim — not the shell
// syntax needed to pass it as one token on a command line.
func RenderContextUnquoted(params map[string]any) (map[string]string, error) {
	ctx := make(map[string]string, len(params))
	for name, v := range params {
		rendered, err := renderScalarUnquoted(v)
		if err != nil {
			return nil, fmt.Errorf("render param %q: %w", name, err)
		}
		ctx[name] = rendered
	}
	return ctx, nil
}
