package history

import "time"

// nowFunc is indirected so tests can pin the clock without sleeping.
var nowFunc = time.Now

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0)
}
