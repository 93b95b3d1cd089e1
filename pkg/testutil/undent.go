package testutil

import "strings"

// Undent strips the common indentation from a raw string literal so that YAML
// and other whitespace-sensitive fixtures can be written inline, aligned with
// the surrounding test code:
//
//	cfg := Undent(`
//		private-key: /keys/team.pem
//		cipher: chacha20-poly1305
//	`)
//
// A leading newline is dropped, as is a last line holding nothing but
// indentation. Blank lines are kept empty whatever their indentation.
func Undent(s string) string {
	lines := strings.Split(strings.TrimPrefix(s, "\n"), "\n")

	indent := -1
	for _, line := range lines {
		if isBlank(line) {
			continue
		}
		if n := len(line) - len(strings.TrimLeft(line, " \t")); indent < 0 || n < indent {
			indent = n
		}
	}

	for i, line := range lines {
		if isBlank(line) {
			lines[i] = ""
			continue
		}
		lines[i] = line[indent:]
	}
	return strings.Join(lines, "\n")
}

func isBlank(line string) bool {
	return strings.TrimLeft(line, " \t") == ""
}
