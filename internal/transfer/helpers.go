package transfer

import "strings"

func trimNewline(s string) string {
	return strings.TrimSpace(s)
}

// parseCommaInt parses rsync's comma-grouped byte counts ("1,048,576").
func parseCommaInt(s string) int64 {
	s = strings.ReplaceAll(s, ",", "")

	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}

		n = n*10 + int64(r-'0')
	}

	return n
}
