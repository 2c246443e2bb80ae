package validate

import "fmt"

// Input limits shared by the upload endpoint and the player socket.
const (
	MaxFileNameLength = 255
	MaxActionLength   = 64
	MaxBodyPartLength = 64
	MaxRecords        = 5000
)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func FileName(s string) string { return checkLen(s, MaxFileNameLength, "file name") }
func Action(s string) string   { return checkLen(s, MaxActionLength, "action") }
func BodyPart(s string) string { return checkLen(s, MaxBodyPartLength, "body part") }

// Records limits how many cues one schedule may carry.
func Records(n int) string {
	if n > MaxRecords {
		return fmt.Sprintf("a schedule may hold at most %d records", MaxRecords)
	}
	return ""
}
