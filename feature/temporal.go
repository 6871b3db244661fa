package feature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrRoundTrip is returned when a temporal string parses successfully but
// re-rendering the parsed value does not reproduce the original string,
// catching silent precision loss on input for date/time/timestamp/
// interval accessors.
var ErrRoundTrip = errors.New("feature: value does not round-trip")

const (
	dateLayout         = "2006-01-02"
	timeLayout         = "15:04:05"
	timeLayoutFrac     = "15:04:05.999999999"
	datetimeLayout     = "2006-01-02T15:04:05"
	datetimeLayoutFrac = "2006-01-02T15:04:05.999999999"
)

// Date is a calendar date with no time-of-day or timezone component.
type Date struct {
	t time.Time
}

// ParseDate parses an ISO 8601 date string, requiring that formatting the
// result reproduce s exactly.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("feature: parse date: %w", err)
	}
	d := Date{t: t}
	if d.String() != s {
		return Date{}, fmt.Errorf("%w: %q", ErrRoundTrip, s)
	}
	return d, nil
}

func (d Date) String() string { return d.t.Format(dateLayout) }

// MarshalJSON renders d as its ISO-8601 string, quoted.
func (d Date) MarshalJSON() ([]byte, error) { return strconv.AppendQuote(nil, d.String()), nil }

// Time is a time-of-day with no date or timezone component.
type Time struct {
	t time.Time
}

// ParseTime parses an ISO 8601 time string, with or without fractional
// seconds, requiring round-trip equality.
func ParseTime(s string) (Time, error) {
	layout := timeLayout
	if strings.Contains(s, ".") {
		layout = timeLayoutFrac
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Time{}, fmt.Errorf("feature: parse time: %w", err)
	}
	tm := Time{t: t}
	if tm.String() != s {
		return Time{}, fmt.Errorf("%w: %q", ErrRoundTrip, s)
	}
	return tm, nil
}

func (t Time) String() string {
	if t.t.Nanosecond() == 0 {
		return t.t.Format(timeLayout)
	}
	return t.t.Format(timeLayoutFrac)
}

// MarshalJSON renders t as its ISO-8601 string, quoted.
func (t Time) MarshalJSON() ([]byte, error) { return strconv.AppendQuote(nil, t.String()), nil }

// DateTime is a calendar date and time-of-day with no timezone, matching
// the "timestamp" dataType's tz=null form.
type DateTime struct {
	t time.Time
}

// ParseDateTime parses an ISO 8601 datetime string without a timezone
// offset, requiring round-trip equality.
func ParseDateTime(s string) (DateTime, error) {
	layout := datetimeLayout
	if strings.Contains(s, ".") {
		layout = datetimeLayoutFrac
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return DateTime{}, fmt.Errorf("feature: parse datetime: %w", err)
	}
	dt := DateTime{t: t}
	if dt.String() != s {
		return DateTime{}, fmt.Errorf("%w: %q", ErrRoundTrip, s)
	}
	return dt, nil
}

func (dt DateTime) String() string {
	if dt.t.Nanosecond() == 0 {
		return dt.t.Format(datetimeLayout)
	}
	return dt.t.Format(datetimeLayoutFrac)
}

// MarshalJSON renders dt as its ISO-8601 string, quoted.
func (dt DateTime) MarshalJSON() ([]byte, error) { return strconv.AppendQuote(nil, dt.String()), nil }

// Interval is an ISO 8601 duration, kept in component form (not
// normalized to a fixed-length time.Duration, since "1 month" has no
// fixed length).
type Interval struct {
	Years, Months, Weeks, Days int
	Hours, Minutes             int
	Seconds                    float64
}

// ParseInterval parses an ISO 8601 duration string such as "P1Y2M3DT4H5M6S",
// requiring round-trip equality.
func ParseInterval(s string) (Interval, error) {
	orig := s
	if len(s) == 0 || s[0] != 'P' {
		return Interval{}, fmt.Errorf("feature: parse interval: %q missing P designator", s)
	}
	s = s[1:]

	datePart, timePart, hasTime := strings.Cut(s, "T")
	if !hasTime {
		datePart = s
		timePart = ""
	}

	var iv Interval
	var err error
	if datePart != "" {
		if strings.Contains(datePart, "W") {
			iv.Weeks, datePart, err = takeIntComponent(datePart, "W")
			if err != nil {
				return Interval{}, err
			}
			if datePart != "" {
				return Interval{}, fmt.Errorf("feature: parse interval: %q mixes weeks with other date components", orig)
			}
		} else {
			iv.Years, datePart, err = takeIntComponent(datePart, "Y")
			if err != nil {
				return Interval{}, err
			}
			iv.Months, datePart, err = takeIntComponent(datePart, "M")
			if err != nil {
				return Interval{}, err
			}
			iv.Days, datePart, err = takeIntComponent(datePart, "D")
			if err != nil {
				return Interval{}, err
			}
			if datePart != "" {
				return Interval{}, fmt.Errorf("feature: parse interval: trailing %q in date part", datePart)
			}
		}
	}
	if timePart != "" {
		iv.Hours, timePart, err = takeIntComponent(timePart, "H")
		if err != nil {
			return Interval{}, err
		}
		iv.Minutes, timePart, err = takeIntComponent(timePart, "M")
		if err != nil {
			return Interval{}, err
		}
		if timePart != "" {
			if !strings.HasSuffix(timePart, "S") {
				return Interval{}, fmt.Errorf("feature: parse interval: trailing %q in time part", timePart)
			}
			iv.Seconds, err = strconv.ParseFloat(strings.TrimSuffix(timePart, "S"), 64)
			if err != nil {
				return Interval{}, fmt.Errorf("feature: parse interval: seconds: %w", err)
			}
		}
	}

	if iv.String() != orig {
		return Interval{}, fmt.Errorf("%w: %q", ErrRoundTrip, orig)
	}
	return iv, nil
}

// takeIntComponent reads a leading "<digits><unit>" prefix off s, returning
// the parsed value, the remainder of s, and any error. If s does not start
// with a digit, returns zero and s unchanged (the component is absent).
func takeIntComponent(s, unit string) (int, string, error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, s, nil
	}
	if i >= len(s) || string(s[i]) != unit {
		return 0, s, nil
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, fmt.Errorf("feature: parse interval: %w", err)
	}
	return n, s[i+1:], nil
}

func (iv Interval) String() string {
	var b strings.Builder
	b.WriteByte('P')
	if iv.Weeks != 0 {
		fmt.Fprintf(&b, "%dW", iv.Weeks)
		return b.String()
	}
	if iv.Years != 0 {
		fmt.Fprintf(&b, "%dY", iv.Years)
	}
	if iv.Months != 0 {
		fmt.Fprintf(&b, "%dM", iv.Months)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&b, "%dD", iv.Days)
	}
	if iv.Hours != 0 || iv.Minutes != 0 || iv.Seconds != 0 {
		b.WriteByte('T')
		if iv.Hours != 0 {
			fmt.Fprintf(&b, "%dH", iv.Hours)
		}
		if iv.Minutes != 0 {
			fmt.Fprintf(&b, "%dM", iv.Minutes)
		}
		if iv.Seconds != 0 {
			s := strconv.FormatFloat(iv.Seconds, 'f', -1, 64)
			fmt.Fprintf(&b, "%sS", s)
		}
	}
	if b.Len() == 1 {
		b.WriteString("0D")
	}
	return b.String()
}

// MarshalJSON renders iv as its ISO-8601 duration string, quoted.
func (iv Interval) MarshalJSON() ([]byte, error) { return strconv.AppendQuote(nil, iv.String()), nil }
