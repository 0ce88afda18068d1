package desync

import (
	"strconv"
	"strings"
)

// ParsePosition compiles a position string of the form
// "offset[:repeats:skip][+flags]" into a Part. Mode is left as ModeNone;
// the caller sets it from which CLI flag produced the spec. ParsePosition
// is a total function: any malformed input yields (Part{}, false) rather
// than an error, so a bad spec just drops that part (spec.md §7,
// ConfigError).
func ParsePosition(spec string) (Part, bool) {
	base, flagStr, _ := strings.Cut(spec, "+")

	baseFields := strings.Split(base, ":")
	if len(baseFields) > 3 {
		return Part{}, false
	}

	pos, err := strconv.Atoi(baseFields[0])
	if err != nil {
		return Part{}, false
	}

	repeats := 1
	if len(baseFields) > 1 && baseFields[1] != "" {
		repeats, err = strconv.Atoi(baseFields[1])
		if err != nil || repeats < 1 {
			return Part{}, false
		}
	}

	skip := 0
	if len(baseFields) > 2 && baseFields[2] != "" {
		skip, err = strconv.Atoi(baseFields[2])
		if err != nil || skip < 0 {
			return Part{}, false
		}
	}

	flag := 0
	for _, r := range flagStr {
		switch r {
		case 'e':
			flag |= FlagEnd
		case 'm':
			flag |= FlagMid
		case 'n':
			flag |= FlagRand
		case 's':
			flag |= FlagSNI
		case 'h':
			flag |= FlagHost
		case 'i':
			// reserved, accepted but ignored
		default:
			return Part{}, false
		}
	}

	return Part{Mode: ModeNone, Flag: flag, Pos: pos, Repeats: repeats, Skip: skip}, true
}
