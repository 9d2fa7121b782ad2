package runner

import "strings"

// SplitArguments breaks argument text into argv the way the .NET host does
// on Unix. Arguments are separated by spaces or tabs outside double quotes.
// A double quote toggles quoting, and a doubled quote inside quotes is a
// literal quote. Backslashes are literal unless they precede a double
// quote, where each pair becomes one backslash and an odd one escapes the
// quote. Single quotes and shell operators carry no meaning.
func SplitArguments(s string) []string {
	args := []string{}
	i := 0
	for i < len(s) {
		for i < len(s) && isArgSpace(s[i]) {
			i++
		}
		if i == len(s) {
			break
		}
		var arg string
		arg, i = nextArgument(s, i)
		args = append(args, arg)
	}
	return args
}

func nextArgument(s string, i int) (string, int) {
	var b strings.Builder
	inQuotes := false

	for i < len(s) {
		c := s[i]

		if c == '\\' {
			n := 0
			for i < len(s) && s[i] == '\\' {
				n++
				i++
			}
			if i < len(s) && s[i] == '"' {
				b.WriteString(strings.Repeat(`\`, n/2))
				if n%2 == 1 {
					b.WriteByte('"')
					i++
				}
			} else {
				b.WriteString(strings.Repeat(`\`, n))
			}
			continue
		}

		if c == '"' {
			if inQuotes && i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			inQuotes = !inQuotes
			i++
			continue
		}

		if isArgSpace(c) && !inQuotes {
			break
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), i
}

func isArgSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// QuoteArgument quotes arg so SplitArguments returns it unchanged
func QuoteArgument(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n\v\"") {
		return arg
	}

	var b strings.Builder
	b.WriteByte('"')
	backslashes := 0
	for i := 0; i < len(arg); i++ {
		switch c := arg[i]; c {
		case '\\':
			backslashes++
			continue
		case '"':
			b.WriteString(strings.Repeat(`\`, 2*backslashes+1))
			b.WriteByte('"')
		default:
			b.WriteString(strings.Repeat(`\`, backslashes))
			b.WriteByte(c)
		}
		backslashes = 0
	}
	// Backslashes ahead of the closing quote must be doubled
	b.WriteString(strings.Repeat(`\`, 2*backslashes))
	b.WriteByte('"')
	return b.String()
}

// JoinArguments quotes each argument and joins them into argument text
func JoinArguments(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = QuoteArgument(arg)
	}
	return strings.Join(quoted, " ")
}
