package feed

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

var durationPattern = regexp.MustCompile(`^(\d+):(\d+)(?::(\d+))?$`)

// durationMinutes reads the iTunes duration tag, which podcast feeds emit as
// plain seconds, MM:SS, or HH:MM:SS. Returns 0 when absent or unparseable.
func durationMinutes(item *gofeed.Item) int {
	if item.ITunesExt == nil {
		return 0
	}
	return parseDurationString(item.ITunesExt.Duration)
}

func parseDurationString(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return atLeastOne(seconds / 60)
	}

	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if m[3] != "" {
		// HH:MM:SS
		seconds, _ := strconv.Atoi(m[3])
		return atLeastOne(first*60 + second + seconds/60)
	}
	// MM:SS
	return atLeastOne(first + second/60)
}

func atLeastOne(minutes int) int {
	if minutes < 1 {
		return 1
	}
	return minutes
}
