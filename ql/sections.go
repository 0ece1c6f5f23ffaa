package ql

import (
	"strconv"
	"strings"
)

// Directive is the parsed `@<section_type> <name> key=value ...`
// header a script may be preceded by (spec.md §4.4.3). Recognized
// flags are surfaced as typed fields; everything else lands in Params
// as a free-form dictionary, per SPEC_FULL.md's supplement recovered
// from the openset predecessor's section handling.
type Directive struct {
	SectionType string
	Name        string

	TTLMs      int64
	RefreshMs  int64
	UseCached  bool
	OnInsert   bool
	ZIndex     int

	Params map[string]string
}

// ParseDirective parses the leading `@...` line, if present, and
// returns the remaining script body. If the script has no `@` header,
// ParseDirective returns a nil Directive and the script unchanged.
func ParseDirective(script string) (*Directive, string, error) {
	trimmed := strings.TrimLeft(script, " \t\r\n")
	if !strings.HasPrefix(trimmed, "@") {
		return nil, script, nil
	}

	nl := strings.IndexByte(trimmed, '\n')
	var line, rest string
	if nl < 0 {
		line, rest = trimmed, ""
	} else {
		line, rest = trimmed[:nl], trimmed[nl+1:]
	}

	fields := strings.Fields(line[1:])
	if len(fields) < 2 {
		return nil, script, ErrSyntax.New("malformed @section directive")
	}

	d := &Directive{
		SectionType: fields[0],
		Name:        fields[1],
		Params:      make(map[string]string),
	}

	for _, kv := range fields[2:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, script, ErrSyntax.New("malformed directive param " + kv)
		}
		key, val := parts[0], parts[1]
		d.Params[key] = val

		switch key {
		case "ttl":
			ms, err := ParseTimeShorthand(val)
			if err != nil {
				return nil, script, err
			}
			d.TTLMs = ms
		case "refresh":
			ms, err := ParseTimeShorthand(val)
			if err != nil {
				return nil, script, err
			}
			d.RefreshMs = ms
		case "use_cached":
			d.UseCached = val == "true"
		case "on_insert":
			d.OnInsert = val == "true"
		case "z_index":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, script, ErrSyntax.New("invalid z_index " + val)
			}
			d.ZIndex = n
		}
	}

	return d, rest, nil
}

// ParseTimeShorthand parses a bare `<n><unit>` value as used in
// directive params (e.g. `ttl=30_minutes`), sharing the lexer's
// time-unit table.
func ParseTimeShorthand(s string) (int64, error) {
	for suffix, mult := range timeUnits {
		if strings.HasSuffix(s, suffix) {
			numPart := strings.TrimSuffix(s, suffix)
			n, err := strconv.ParseInt(numPart, 10, 64)
			if err != nil {
				return 0, ErrInvalidTimeShorthand.New(s)
			}
			return n * mult, nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidTimeShorthand.New(s)
	}
	return n, nil
}
