package bot

import "regexp"

var gidPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

func validGID(s string) bool {
	return gidPattern.MatchString(s)
}
