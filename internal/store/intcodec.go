package store

import "strconv"

// parseInt parses the decimal text form of a stored integer value, the
// representation INCR/DECR read and write back.
func parseInt(raw []byte) (int64, error) {
	return strconv.ParseInt(string(raw), 10, 64)
}

// formatInt renders n as the decimal text form stored for INCR/DECR.
func formatInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
