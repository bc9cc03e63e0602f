package command

import "strings"

// Parse splits a command line on the first run of whitespace. The verb is
// lower-cased; the remainder keeps its case and inner spacing.
func Parse(line string) (verb, args string) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, " \t\n")
	if i < 0 {
		return strings.ToLower(line), ""
	}
	return strings.ToLower(line[:i]), strings.TrimSpace(line[i+1:])
}
