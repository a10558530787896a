package engineclient

import (
	"path"
	"strconv"
)

// parseInt64 tolerates aria2's convention of returning numeric fields as
// strings; a malformed or empty value is treated as zero rather than
// failing the whole snapshot.
func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}
