// Package timeframe defines the candle durations supported by the pipeline
// and the UTC bucket arithmetic shared by the aggregator, validator and
// scheduler. A bucket is the half-open interval [start, start+duration)
// identified by its start.
package timeframe

import (
	"fmt"
	"time"
)

// TimeFrame is a fixed candle duration. The string form is used in table
// names (candles_t15_ftx) and on the markets row.
type TimeFrame string

const (
	S15 TimeFrame = "s15"
	S30 TimeFrame = "s30"
	T01 TimeFrame = "t01"
	T03 TimeFrame = "t03"
	T05 TimeFrame = "t05"
	T15 TimeFrame = "t15"
	T30 TimeFrame = "t30"
	H01 TimeFrame = "h01"
	H02 TimeFrame = "h02"
	H03 TimeFrame = "h03"
	H04 TimeFrame = "h04"
	H06 TimeFrame = "h06"
	H12 TimeFrame = "h12"
	D01 TimeFrame = "d01"
)

var seconds = map[TimeFrame]int64{
	S15: 15,
	S30: 30,
	T01: 60,
	T03: 180,
	T05: 300,
	T15: 900,
	T30: 1800,
	H01: 3600,
	H02: 7200,
	H03: 10800,
	H04: 14400,
	H06: 21600,
	H12: 43200,
	D01: 86400,
}

// Parse returns the TimeFrame for s, or an error for an unknown duration.
func Parse(s string) (TimeFrame, error) {
	tf := TimeFrame(s)
	if _, ok := seconds[tf]; !ok {
		return "", fmt.Errorf("%q is not a supported timeframe", s)
	}
	return tf, nil
}

// FromSeconds maps a duration in seconds back to its TimeFrame.
func FromSeconds(secs int64) (TimeFrame, error) {
	for tf, s := range seconds {
		if s == secs {
			return tf, nil
		}
	}
	return "", fmt.Errorf("%d seconds is not a supported timeframe", secs)
}

func (tf TimeFrame) String() string { return string(tf) }

// Seconds returns the bucket length in seconds.
func (tf TimeFrame) Seconds() int64 { return seconds[tf] }

// Duration returns the bucket length as a time.Duration.
func (tf TimeFrame) Duration() time.Duration {
	return time.Duration(seconds[tf]) * time.Second
}

// Floor truncates t down to the start of its bucket in UTC.
func (tf TimeFrame) Floor(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// Ceiling returns the start of the bucket after the one containing t.
// If t is exactly on a boundary the next boundary is returned.
func (tf TimeFrame) Ceiling(t time.Time) time.Time {
	return tf.Floor(t).Add(tf.Duration())
}

// Contains reports whether ts falls inside the bucket starting at start.
func (tf TimeFrame) Contains(start, ts time.Time) bool {
	return !ts.Before(start) && ts.Before(start.Add(tf.Duration()))
}

// Range returns every bucket start in [start, end). Start is floored first,
// so a mid-bucket start yields the bucket containing it.
func (tf TimeFrame) Range(start, end time.Time) []time.Time {
	var buckets []time.Time
	for d := tf.Floor(start); d.Before(end); d = d.Add(tf.Duration()) {
		buckets = append(buckets, d)
	}
	return buckets
}
