package principal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/marmos91/alluxio-auth/pkg/auth"
)

// ruleParser recognizes one clause at the head of the remaining rule text.
//
// Groups: 2 DEFAULT, 4 component count, 5 format, 7 match filter,
// 8 substitution, 9 from, 10 to, 11 g, 12 L.
var ruleParser = regexp.MustCompile(
	`^\s*((DEFAULT)|(RULE:\[(\d*):([^\]]*)](\(([^)]*)\))?(s/([^/]*)/([^/]*)/(g)?)?))/?(L)?`)

// Rule is one compiled auth-to-local clause. Rules are immutable once
// compiled.
type Rule struct {
	isDefault     bool
	numComponents int
	format        string
	match         *regexp.Regexp
	matchText     string
	from          *regexp.Regexp
	fromText      string
	to            string
	template      string
	global        bool
	lowercase     bool
}

// IsDefault reports whether r is the DEFAULT rule.
func (r Rule) IsDefault() bool { return r.isDefault }

// NumComponents returns the number of non-realm components a pattern rule
// applies to. It is zero for the DEFAULT rule.
func (r Rule) NumComponents() int { return r.numComponents }

// String renders r in canonical rule syntax.
func (r Rule) String() string {
	var b strings.Builder
	if r.isDefault {
		b.WriteString("DEFAULT")
	} else {
		b.WriteString("RULE:[")
		b.WriteString(strconv.Itoa(r.numComponents))
		b.WriteByte(':')
		b.WriteString(r.format)
		b.WriteByte(']')
		if r.match != nil {
			b.WriteByte('(')
			b.WriteString(r.matchText)
			b.WriteByte(')')
		}
		if r.from != nil {
			b.WriteString("s/")
			b.WriteString(r.fromText)
			b.WriteByte('/')
			b.WriteString(r.to)
			b.WriteByte('/')
			if r.global {
				b.WriteByte('g')
			}
		}
	}
	if r.lowercase {
		b.WriteString("/L")
	}
	return b.String()
}

// CompileRules parses rule text into an ordered rule list.
//
// Compilation is all or nothing: the first malformed clause aborts with an
// *auth.RuleCompileError and no rules are returned. Empty text compiles to an
// empty list.
func CompileRules(text string) ([]Rule, error) {
	var rules []Rule
	remaining := strings.TrimSpace(text)
	offset := len(text) - len(strings.TrimLeft(text, " \t\r\n"))

	for remaining != "" {
		m := ruleParser.FindStringSubmatchIndex(remaining)
		if m == nil {
			return nil, &auth.RuleCompileError{Offset: offset, Clause: clauseAt(remaining)}
		}
		group := func(i int) (string, bool) {
			if m[2*i] < 0 {
				return "", false
			}
			return remaining[m[2*i]:m[2*i+1]], true
		}

		r, err := compileClause(group)
		if err != nil {
			return nil, &auth.RuleCompileError{Offset: offset, Clause: clauseAt(remaining), Err: err}
		}
		rules = append(rules, r)

		offset += m[1]
		remaining = remaining[m[1]:]
	}
	return rules, nil
}

func compileClause(group func(int) (string, bool)) (Rule, error) {
	var r Rule
	_, r.lowercase = group(12)
	if _, ok := group(2); ok {
		r.isDefault = true
		return r, nil
	}

	count, _ := group(4)
	n, err := strconv.Atoi(count)
	if err != nil {
		return r, errBadComponentCount
	}
	r.numComponents = n
	r.format, _ = group(5)
	if err := checkFormat(r.format, n); err != nil {
		return r, err
	}

	if m, ok := group(7); ok {
		re, err := regexp.Compile(`^(?:` + m + `)$`)
		if err != nil {
			return r, err
		}
		r.match, r.matchText = re, m
	}
	if _, ok := group(8); ok {
		from, _ := group(9)
		re, err := regexp.Compile(from)
		if err != nil {
			return r, err
		}
		r.from, r.fromText = re, from
		r.to, _ = group(10)
		r.template = expandTemplate(r.to, re.NumSubexp())
		_, r.global = group(11)
	}
	return r, nil
}

// ApplyRules evaluates rules in order against components ([realm, service]
// or [realm, service, host]) and returns the first non-empty result.
func ApplyRules(rules []Rule, components []string, defaultRealm string) (string, bool) {
	for i := range rules {
		if out, ok := rules[i].apply(components, defaultRealm); ok && out != "" {
			return out, true
		}
	}
	return "", false
}

func (r *Rule) apply(components []string, defaultRealm string) (string, bool) {
	var result string
	if r.isDefault {
		if len(components) < 2 || components[0] == "" || components[0] != defaultRealm {
			return "", false
		}
		result = components[1]
	} else {
		if len(components)-1 != r.numComponents {
			return "", false
		}
		base := renderFormat(r.format, components)
		if r.match != nil && !r.match.MatchString(base) {
			return "", false
		}
		result = base
		if r.from != nil {
			result = r.substitute(base)
		}
	}
	if r.lowercase {
		result = strings.ToLower(result)
	}
	return result, true
}

func (r *Rule) substitute(s string) string {
	if r.global {
		return r.from.ReplaceAllString(s, r.template)
	}
	loc := r.from.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var b []byte
	b = append(b, s[:loc[0]]...)
	b = r.from.ExpandString(b, r.template, s, loc)
	b = append(b, s[loc[1]:]...)
	return string(b)
}

// expandTemplate rewrites a substitution target into regexp.Expand syntax.
// In the target, $N always names a numbered group: digits after the first
// are consumed only while the number stays within numGroups. A backslash
// quotes the next character and any other '$' is literal.
func expandTemplate(to string, numGroups int) string {
	var b strings.Builder
	for i := 0; i < len(to); i++ {
		c := to[i]
		switch {
		case c == '\\' && i+1 < len(to):
			i++
			if to[i] == '$' {
				b.WriteString("$$")
			} else {
				b.WriteByte(to[i])
			}
		case c == '$' && i+1 < len(to) && isDigit(to[i+1]):
			n := int(to[i+1] - '0')
			j := i + 2
			for j < len(to) && isDigit(to[j]) {
				next := n*10 + int(to[j]-'0')
				if next > numGroups {
					break
				}
				n = next
				j++
			}
			b.WriteString("${" + strconv.Itoa(n) + "}")
			i = j - 1
		case c == '$':
			b.WriteString("$$")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// renderFormat replaces $N with components[N]. A '$' that is not followed by
// a digit is copied as is. Indexes are validated at compile time.
func renderFormat(format string, components []string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && isDigit(format[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		idx, _ := strconv.Atoi(format[i+1 : j])
		if idx < len(components) {
			b.WriteString(components[idx])
		}
		i = j - 1
	}
	return b.String()
}

func checkFormat(format string, numComponents int) error {
	for i := 0; i < len(format); i++ {
		if format[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(format) && isDigit(format[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		idx, err := strconv.Atoi(format[i+1 : j])
		if err != nil || idx > numComponents {
			return &formatIndexError{index: format[i+1 : j], max: numComponents}
		}
		i = j - 1
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// clauseAt returns the clause at the head of s for error messages.
func clauseAt(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
