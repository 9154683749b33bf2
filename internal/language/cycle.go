package language

import (
	"fmt"
	"strings"
)

// Cycle is the ordered, closed set of decoding languages the UI toggles through.
type Cycle struct {
	codes []string
}

// DefaultCodes is the English/Spanish pair the toggle button cycles between.
var DefaultCodes = []string{"en", "es"}

// NewCycle builds a cycle from codes, normalised and de-duplicated in order.
func NewCycle(codes ...string) (Cycle, error) {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n := Normalize(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return Cycle{}, fmt.Errorf("language: cycle needs at least one code")
	}
	return Cycle{codes: out}, nil
}

// MustCycle is NewCycle for static code lists.
func MustCycle(codes ...string) Cycle {
	c, err := NewCycle(codes...)
	if err != nil {
		panic(err)
	}
	return c
}

// Normalize lowercases and trims a language code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Codes returns a copy of the ordered codes.
func (c Cycle) Codes() []string {
	return append([]string(nil), c.codes...)
}

// Default returns the first code of the cycle.
func (c Cycle) Default() string {
	if len(c.codes) == 0 {
		return ""
	}
	return c.codes[0]
}

// Contains reports whether code is part of the cycle.
func (c Cycle) Contains(code string) bool {
	return c.index(Normalize(code)) >= 0
}

// Next returns the code after cur, wrapping around. Unknown codes map to the default.
func (c Cycle) Next(cur string) string {
	if len(c.codes) == 0 {
		return ""
	}
	i := c.index(Normalize(cur))
	if i < 0 {
		return c.codes[0]
	}
	return c.codes[(i+1)%len(c.codes)]
}

// Others returns every code of the cycle except cur.
func (c Cycle) Others(cur string) []string {
	cur = Normalize(cur)
	out := make([]string, 0, len(c.codes))
	for _, code := range c.codes {
		if code != cur {
			out = append(out, code)
		}
	}
	return out
}

func (c Cycle) index(code string) int {
	for i, v := range c.codes {
		if v == code {
			return i
		}
	}
	return -1
}
