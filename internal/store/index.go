package store

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cjeanneret/vibecast/internal/fault"
)

// FisheyeLabel is the label of the raw capture stored with each batch.
const FisheyeLabel = "fisheye"

const (
	keyTimeLayout = "20060102_150405"
	dateLayout    = "2006-01-02"
)

// KeyInfo is what a store key encodes.
type KeyInfo struct {
	Key     string
	Time    time.Time // UTC
	Label   string    // includes the rotated suffix, e.g. "B_rotated"
	Ext     string
	Rotated bool
}

// Stem is the key without label and extension, shared by every object of
// one capture: YYYY/MM/DD/YYYYMMDD_HHMMSS_.
func (k KeyInfo) Stem() string {
	return strings.TrimSuffix(k.Key, k.Label+"."+k.Ext)
}

// ParseKey splits a key built by Key. Anything else is a ValidationError.
func ParseKey(key string) (KeyInfo, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return KeyInfo{}, fault.Validationf("key %q: want YYYY/MM/DD/<file>", key)
	}
	name := parts[3]
	ext := strings.TrimPrefix(path.Ext(name), ".")
	base := strings.TrimSuffix(name, path.Ext(name))
	if ext == "" || len(base) < len(keyTimeLayout)+2 || base[len(keyTimeLayout)] != '_' {
		return KeyInfo{}, fault.Validationf("key %q: want YYYYMMDD_HHMMSS_<label>.<ext>", key)
	}
	ts, err := time.Parse(keyTimeLayout, base[:len(keyTimeLayout)])
	if err != nil {
		return KeyInfo{}, fault.Validationf("key %q: %v", key, err)
	}
	if strings.Join(parts[:3], "/") != ts.Format("2006/01/02") {
		return KeyInfo{}, fault.Validationf("key %q: directory does not match timestamp", key)
	}
	return KeyInfo{
		Key:     key,
		Time:    ts,
		Label:   base[len(keyTimeLayout)+1:],
		Ext:     ext,
		Rotated: IsRotated(key),
	}, nil
}

// ParseDate parses YYYY-MM-DD as a UTC day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fault.Validationf("date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// ParseRange parses a date/time range. Times are HH:MM and default to
// 00:00 and 23:59; the end minute is inclusive.
func ParseRange(fromDate, toDate, fromTime, toTime string) (from, to time.Time, err error) {
	if fromTime == "" {
		fromTime = "00:00"
	}
	if toTime == "" {
		toTime = "23:59"
	}
	const layout = dateLayout + " 15:04"
	from, err = time.Parse(layout, fromDate+" "+fromTime)
	if err != nil {
		return time.Time{}, time.Time{}, fault.Validationf("from %q %q: want YYYY-MM-DD HH:MM", fromDate, fromTime)
	}
	to, err = time.Parse(layout, toDate+" "+toTime)
	if err != nil {
		return time.Time{}, time.Time{}, fault.Validationf("to %q %q: want YYYY-MM-DD HH:MM", toDate, toTime)
	}
	to = to.Add(time.Minute - time.Nanosecond)
	if to.Before(from) {
		return time.Time{}, time.Time{}, fault.Validationf("range end %s is before start %s", to.Format(layout), from.Format(layout))
	}
	return from, to, nil
}

// InRange keeps the keys whose timestamp lies in [from, to], sorted.
// Keys that do not parse are skipped.
func InRange(keys []string, from, to time.Time) []string {
	out := []string{}
	for _, k := range keys {
		info, err := ParseKey(k)
		if err != nil {
			continue
		}
		if !info.Time.Before(from) && !info.Time.After(to) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// OnDate keeps the keys captured on day (YYYY-MM-DD, UTC).
func OnDate(keys []string, day time.Time) []string {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return InRange(keys, start, start.Add(24*time.Hour-time.Nanosecond))
}

// ViewsOf returns label -> key for every object sharing the capture of
// fisheyeKey, excluding the fisheye itself. fisheyeKey must be a raw
// capture key.
func ViewsOf(keys []string, fisheyeKey string) (map[string]string, error) {
	info, err := ParseKey(fisheyeKey)
	if err != nil {
		return nil, err
	}
	if info.Label != FisheyeLabel {
		return nil, fault.Validationf("key %q is not a raw %s capture", fisheyeKey, FisheyeLabel)
	}
	stem := info.Stem()
	out := make(map[string]string)
	for _, k := range keys {
		if k == fisheyeKey || !strings.HasPrefix(k, stem) {
			continue
		}
		v, err := ParseKey(k)
		if err != nil || !v.Time.Equal(info.Time) {
			continue
		}
		out[v.Label] = k
	}
	return out, nil
}

// Stats summarizes raw captures per day.
type Stats struct {
	Dates       []string `json:"dates"`
	Counts      []int    `json:"counts"`
	FirstDate   string   `json:"first_date,omitempty"`
	LastDate    string   `json:"last_date,omitempty"`
	TotalImages int      `json:"total_images"`
	TotalDays   int      `json:"total_days"`
}

// Summarize counts the raw fisheye captures among keys by day.
func Summarize(keys []string) Stats {
	perDay := make(map[string]int)
	for _, k := range keys {
		info, err := ParseKey(k)
		if err != nil || info.Label != FisheyeLabel {
			continue
		}
		perDay[info.Time.Format(dateLayout)]++
	}
	st := Stats{Dates: []string{}, Counts: []int{}}
	for d := range perDay {
		st.Dates = append(st.Dates, d)
	}
	sort.Strings(st.Dates)
	for _, d := range st.Dates {
		st.Counts = append(st.Counts, perDay[d])
		st.TotalImages += perDay[d]
	}
	st.TotalDays = len(st.Dates)
	if st.TotalDays > 0 {
		st.FirstDate, st.LastDate = st.Dates[0], st.Dates[st.TotalDays-1]
	}
	return st
}
