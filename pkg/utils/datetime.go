package utils

import "time"

// CreateTimeLayout is the layout of the create_time field on index records.
const CreateTimeLayout = "2006-01-02 15:04:05"

// UTCNow returns the current UTC datetime with timezone information
func UTCNow() time.Time {
	return time.Now().UTC()
}

// FormatCreateTime formats t the way index records store it.
func FormatCreateTime(t time.Time) string {
	return t.Format(CreateTimeLayout)
}

// TimestampFloat returns t as fractional seconds since the Unix epoch.
func TimestampFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
