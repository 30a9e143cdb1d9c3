package session

import (
	"strings"
	"time"
)

// TimestampLayout formats the session start time in object keys
// (yyyy-MM-dd-HH-mm-ss).
const TimestampLayout = "2006-01-02-15-04-05"

// BuildKey returns the object key for a participant's recording:
//
//	{basePath}/{room}/{yyyy-MM-dd-HH-mm-ss}_{participant}.{ext}
//
// An empty basePath omits the leading segment. Surrounding slashes in
// basePath and a leading dot in ext are ignored.
func BuildKey(basePath, room, participant, ext string, startedAt time.Time) string {
	name := startedAt.Format(TimestampLayout) + "_" + participant
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}

	if basePath = strings.Trim(basePath, "/"); basePath == "" {
		return room + "/" + name
	}
	return basePath + "/" + room + "/" + name
}
