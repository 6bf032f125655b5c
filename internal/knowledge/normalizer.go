package knowledge

import "regexp"

var (
	reUUID      = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reIP        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	rePort      = regexp.MustCompile(`:\d+([/\s,)\]])`)
	reHash      = regexp.MustCompile(`(?i)([/\\])[0-9a-f]{8,}([/\\])`)
	reStatus    = regexp.MustCompile(`\b([45])\d{2}\b`)
	rePathID    = regexp.MustCompile(`/([A-Za-z_][\w-]*)/\d+`)
	reNumber    = regexp.MustCompile(`\b\d{4,}\b`)
)

// Normalize applies 8 ordered substitutions, in exactly this sequence,
// that make an error message IP-invariant and run-invariant so repeated
// occurrences of the same underlying failure fingerprint identically:
// UUIDs, ISO timestamps, dotted-quad IPs, trailing ports, hex hashes
// between path separators, 3-digit 4xx/5xx statuses, numeric path
// segments, then any remaining standalone long number.
func Normalize(errorText string) string {
	s := errorText
	s = reUUID.ReplaceAllString(s, "<UUID>")
	s = reTimestamp.ReplaceAllString(s, "<TIMESTAMP>")
	s = reIP.ReplaceAllString(s, "<IP>")
	s = rePort.ReplaceAllString(s, ":<PORT>${1}")
	s = reHash.ReplaceAllString(s, "${1}<HASH>${2}")
	s = reStatus.ReplaceAllString(s, "${1}xx")
	s = rePathID.ReplaceAllString(s, "/$1/<ID>")
	s = reNumber.ReplaceAllString(s, "<NUM>")
	return s
}
