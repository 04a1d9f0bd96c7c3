package step

import (
	"bytes"
	"regexp"
)

// LogNormalizer strips the usual nondeterministic noise from captured
// stage output so that cached stdout compares stable across runs.
//
// The processing binaries print wall-clock timestamps, elapsed times, and
// pids; none of those belong in a deterministic transcript.
type LogNormalizer struct {
	patterns []*normPattern
}

type normPattern struct {
	regex       *regexp.Regexp
	replacement []byte
}

// NewLogNormalizer creates a normalizer covering ISO 8601 and log-style
// timestamps, unix timestamps, elapsed-time reports, pids, and memory
// addresses.
func NewLogNormalizer() *LogNormalizer {
	return &LogNormalizer{
		patterns: []*normPattern{
			// 2024-12-13T10:30:45Z, 2024-12-13T10:30:45.123+02:00
			{
				regex:       regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`),
				replacement: []byte("<TIMESTAMP>"),
			},
			// 2024-12-13 10:30:45, 2024/12/13 10:30:45
			{
				regex:       regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}:\d{2}(\.\d+)?`),
				replacement: []byte("<TIMESTAMP>"),
			},
			// Unix timestamps, 10+ digits.
			{
				regex:       regexp.MustCompile(`\b1[0-9]{9,12}\b`),
				replacement: []byte("<UNIX_TS>"),
			},
			// took 1.234s, 123ms, elapsed 1.5 seconds
			{
				regex:       regexp.MustCompile(`\b\d+(\.\d+)?\s*(ms|s|seconds?|minutes?|hours?)\b`),
				replacement: []byte("<DURATION>"),
			},
			// pid 12345, PID: 12345
			{
				regex:       regexp.MustCompile(`\b[Pp][Ii][Dd][:\s]*\d+\b`),
				replacement: []byte("pid <PID>"),
			},
			// 0x7fff5fbff8c0
			{
				regex:       regexp.MustCompile(`0x[0-9a-fA-F]{8,16}`),
				replacement: []byte("<ADDR>"),
			},
		},
	}
}

// Normalize applies every pattern in order.
func (n *LogNormalizer) Normalize(content []byte) []byte {
	result := content
	for _, p := range n.patterns {
		result = p.regex.ReplaceAll(result, p.replacement)
	}
	return result
}

// RawNormalizer preserves content unchanged. Image artifacts are compared
// bit-for-bit; rewriting them would corrupt the bundle.
type RawNormalizer struct{}

// Normalize returns content as-is.
func (RawNormalizer) Normalize(content []byte) []byte { return content }

// LineEndingNormalizer converts CRLF to LF before applying an optional
// inner normalizer.
type LineEndingNormalizer struct {
	Inner OutputNormalizer
}

// Normalize converts line endings and then delegates to Inner when set.
func (n *LineEndingNormalizer) Normalize(content []byte) []byte {
	result := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if n.Inner != nil {
		result = n.Inner.Normalize(result)
	}
	return result
}
