package robust

import (
	"fmt"
	"strings"
)

// Method selects the sample-consensus variant. All variants share the same
// estimation loop and differ only in sampling, scoring and stopping policy.
type Method int

const (
	RANSAC Method = iota
	LMedS
	MSAC
	PROSAC
	PROMedS
)

// DefaultMethod is used when a configuration leaves the method unset.
const DefaultMethod = PROMedS

var methodNames = map[Method]string{
	RANSAC:  "RANSAC",
	LMedS:   "LMedS",
	MSAC:    "MSAC",
	PROSAC:  "PROSAC",
	PROMedS: "PROMedS",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Methods lists every supported variant.
func Methods() []Method {
	return []Method{RANSAC, LMedS, MSAC, PROSAC, PROMedS}
}

// ParseMethod parses a method name case-insensitively.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return m, nil
		}
	}
	return 0, invalidArgument("unknown method %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if _, ok := methodNames[m]; !ok {
		return nil, invalidArgument("unknown method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so YAML and JSON can
// spell the method by name.
func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// progressive reports whether the variant samples in quality order and
// therefore needs quality scores.
func (m Method) progressive() bool {
	return m == PROSAC || m == PROMedS
}

// medianBased reports whether the variant scores by median squared residual.
func (m Method) medianBased() bool {
	return m == LMedS || m == PROMedS
}

// RequiresQualityScores reports whether Estimate needs quality scores.
func (m Method) RequiresQualityScores() bool {
	return m.progressive()
}

func (m Method) valid() bool {
	_, ok := methodNames[m]
	return ok
}
