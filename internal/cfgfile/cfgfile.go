// Package cfgfile compiles overlay settings into the line-oriented server
// config format. The compiler is line preserving: input lines it does not
// replace are reproduced exactly, so compiling an empty overlay returns the
// input unchanged.
package cfgfile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cs2ctl/internal/log"
)

// ErrInvalidValue is wrapped by validation failures on known directives.
var ErrInvalidValue = errors.New("invalid directive value")

// passthroughTag marks compiled directives the tool does not model.
const passthroughTag = "// cs2ctl: passthrough directive"

// knownDirectives are the settings the tool validates. Anything else in the
// overlay passes through to the compiled file verbatim, flagged and warned
// about, never dropped.
var knownDirectives = map[string]bool{
	"hostname":      true,
	"rcon_password": true,
	"sv_password":   true,
	"maxplayers":    true,
	"map":           true,
	"game_mode":     true,
	"game_type":     true,
}

// Known reports whether key is a directive the tool models.
func Known(key string) bool {
	return knownDirectives[key]
}

// Validate checks a single overlay assignment. Unknown keys always pass.
func Validate(key, value string) error {
	switch key {
	case "maxplayers":
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("%w: maxplayers must be an integer, got %q", ErrInvalidValue, value)
		}
	}
	return nil
}

type lineKind int

const (
	blankLine lineKind = iota
	commentLine
	directiveLine
)

type line struct {
	raw    string
	kind   lineKind
	key    string
	indent string
	quoted bool
}

func parseLine(raw string) line {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return line{raw: raw, kind: blankLine}
	}
	if strings.HasPrefix(trimmed, "//") {
		return line{raw: raw, kind: commentLine}
	}
	indent := raw[:len(raw)-len(strings.TrimLeft(raw, " \t"))]
	key := trimmed
	rest := ""
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		key = trimmed[:i]
		rest = strings.TrimLeft(trimmed[i:], " \t")
	}
	return line{
		raw:    raw,
		kind:   directiveLine,
		key:    key,
		indent: indent,
		quoted: strings.HasPrefix(rest, `"`),
	}
}

func formatValue(value string, quoted bool) string {
	if quoted || value == "" || strings.ContainsAny(value, " \t") {
		return `"` + value + `"`
	}
	return value
}

// Compile merges overlay directives into existing config text. Directives
// already present in the text are replaced in place, keeping their leading
// whitespace and quoting style. Overlay keys with no matching line are
// appended at the end, unknown ones flagged with a passthrough comment.
func Compile(overlay map[string]string, existing string) (string, error) {
	for key, value := range overlay {
		if err := Validate(key, value); err != nil {
			return "", err
		}
	}
	if len(overlay) == 0 {
		return existing, nil
	}

	endsWithNewline := strings.HasSuffix(existing, "\n")
	var rawLines []string
	if existing != "" {
		rawLines = strings.Split(existing, "\n")
		if endsWithNewline {
			rawLines = rawLines[:len(rawLines)-1]
		}
	}

	replaced := make(map[string]bool, len(overlay))
	out := make([]string, 0, len(rawLines)+len(overlay))
	for _, raw := range rawLines {
		l := parseLine(raw)
		if l.kind == directiveLine {
			if value, ok := overlay[l.key]; ok {
				out = append(out, l.indent+l.key+" "+formatValue(value, l.quoted))
				replaced[l.key] = true
				continue
			}
		}
		out = append(out, raw)
	}

	pending := make([]string, 0, len(overlay))
	for key := range overlay {
		if !replaced[key] {
			pending = append(pending, key)
		}
	}
	sort.Strings(pending)
	for _, key := range pending {
		compiled := key + " " + formatValue(overlay[key], false)
		if !Known(key) {
			compiled += " " + passthroughTag
			log.Warn(log.CatCfg, "passing through unrecognized directive", "key", key)
		}
		out = append(out, compiled)
	}

	result := strings.Join(out, "\n")
	if endsWithNewline || len(pending) > 0 {
		result += "\n"
	}
	return result, nil
}

// DefaultDirectives returns the config text compiled for a fresh install,
// before any overlay has been applied.
func DefaultDirectives() string {
	return strings.Join([]string{
		"// server.cfg managed by cs2ctl",
		`hostname "CS2 Server"`,
		`sv_password ""`,
		`rcon_password ""`,
		"maxplayers 10",
		"",
	}, "\n")
}
