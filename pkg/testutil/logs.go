package testutil

import (
	"regexp"
)

// ReplaceWithStaticTimestamps zeroes the parts of a log line that change from
// run to run, so that log output can be compared with a fixed expectation:
// klog headers, JSON "ts" fields, standard library timestamps and the line
// numbers of callers.
//
//	From: I1018 15:12:57.953433   22183 stream.go:214] "Encrypted stream" chunks=3
//	To:   I0000 00:00:00.000000   00000 stream.go:000] "Encrypted stream" chunks=3
func ReplaceWithStaticTimestamps(input string) string {
	for _, r := range staticReplacements {
		input = r.re.ReplaceAllString(input, r.with)
	}
	return input
}

// Order matters: the klog header with a thread ID must be matched before the
// shorter form without one.
var staticReplacements = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\d{4} \d{2}:\d{2}:\d{2}\.\d{6} +\d+`), "0000 00:00:00.000000   00000"},
	{regexp.MustCompile(`\d{4} \d{2}:\d{2}:\d{2}\.\d{6}`), "0000 00:00:00.000000"},
	{regexp.MustCompile(`"ts":\d+\.?\d*`), `"ts":0000000000000.000`},
	{regexp.MustCompile(`\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}`), "0000/00/00 00:00:00"},
	{regexp.MustCompile(`"caller":"([^"]+).go:\d+"`), `"caller":"$1.go:000"`},
	{regexp.MustCompile(` ([^:]+).go:\d+`), " $1.go:000"},
}
