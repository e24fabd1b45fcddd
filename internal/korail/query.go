// Package korail implements the unauthenticated Korail mobile seat-availability
// API: the immutable query/result data model, the station code table, and the
// HTTP client that performs one complete (possibly paginated) availability
// check per call.
package korail

import (
	"errors"
	"fmt"
	"time"
)

// ClockTime is a wall-clock time of day with minute resolution. The Korail
// schedule API deals exclusively in local (KST) wall-clock times, so a full
// time.Time with a date and zone would only invite mistakes.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" into a ClockTime.
func ParseClockTime(s string) (ClockTime, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return ClockTime{}, fmt.Errorf("korail: invalid clock time %q (want HH:MM)", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("korail: clock time %q out of range", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// parseWireTime parses the API's HHMMSS (or HHMM) strings. Short or malformed
// values collapse to midnight, matching the endpoint's own zero-padding.
func parseWireTime(s string) ClockTime {
	for len(s) < 4 {
		s += "0"
	}
	h := digit2(s[0:2])
	m := digit2(s[2:4])
	if h > 23 || m > 59 {
		return ClockTime{}
	}
	return ClockTime{Hour: h, Minute: m}
}

func digit2(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Minutes returns the time as minutes since midnight.
func (t ClockTime) Minutes() int { return t.Hour*60 + t.Minute }

// Before reports whether t is strictly earlier than u.
func (t ClockTime) Before(u ClockTime) bool { return t.Minutes() < u.Minutes() }

// After reports whether t is strictly later than u.
func (t ClockTime) After(u ClockTime) bool { return t.Minutes() > u.Minutes() }

// String formats the time as "HH:MM".
func (t ClockTime) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Wire formats the time as the API's six-digit HHMMSS string.
func (t ClockTime) Wire() string { return fmt.Sprintf("%02d%02d00", t.Hour, t.Minute) }

// Train class display names accepted in a TrainQuery. The endpoint takes a
// numeric group code, looked up in trainClassCodes.
const (
	TrainKTX         = "KTX"
	TrainKTXSancheon = "KTX-산천"
	TrainKTXEum      = "KTX-이음"
	TrainITXSaemaeul = "ITX-새마을"
	TrainITXCheongch = "ITX-청춘"
	TrainMugunghwa   = "무궁화"
	TrainAll         = "전체"
)

// trainClassCodes maps a train class to the Korail group code sent upstream.
// "전체" deliberately maps to the catch-all code.
var trainClassCodes = map[string]string{
	TrainKTX:         "100",
	TrainKTXSancheon: "100",
	TrainKTXEum:      "100",
	TrainITXSaemaeul: "101",
	TrainITXCheongch: "109",
	TrainMugunghwa:   "102",
	TrainAll:         "109",
}

// Seat class display names and their attribute codes.
const (
	SeatGeneral = "일반실"
	SeatSpecial = "특실"
)

var seatClassCodes = map[string]string{
	SeatGeneral: "015",
	SeatSpecial: "011",
}

// maxFutureDays is how far ahead Korail opens reservations.
const maxFutureDays = 90

// TrainQuery is the immutable description of what the session is waiting for.
// Construct one with NewQuery, which normalizes stations and validates every
// invariant; a zero or hand-built value may fail Validate.
type TrainQuery struct {
	Departure   string
	Arrival     string
	Date        time.Time // calendar date; time-of-day component ignored
	WindowStart ClockTime
	WindowEnd   ClockTime
	TrainClass  string
	SeatClass   string
	Passengers  int
}

// NewQuery builds a validated TrainQuery. Station names are normalized through
// the alias table ("서울역" → "서울"); unknown stations, past or too-distant
// dates, inverted time windows, and passenger counts outside 1..9 are rejected.
func NewQuery(departure, arrival string, date time.Time, start, end ClockTime, trainClass, seatClass string, passengers int) (TrainQuery, error) {
	dep, err := NormalizeStation(departure)
	if err != nil {
		return TrainQuery{}, err
	}
	arr, err := NormalizeStation(arrival)
	if err != nil {
		return TrainQuery{}, err
	}
	q := TrainQuery{
		Departure:   dep,
		Arrival:     arr,
		Date:        date,
		WindowStart: start,
		WindowEnd:   end,
		TrainClass:  trainClass,
		SeatClass:   seatClass,
		Passengers:  passengers,
	}
	if err := q.Validate(); err != nil {
		return TrainQuery{}, err
	}
	return q, nil
}

// Validate checks every query invariant and returns all violations joined.
func (q TrainQuery) Validate() error {
	var errs []error

	if q.Departure == "" {
		errs = append(errs, errors.New("departure station is required"))
	}
	if q.Arrival == "" {
		errs = append(errs, errors.New("arrival station is required"))
	}
	if q.Departure != "" && q.Departure == q.Arrival {
		errs = append(errs, errors.New("departure and arrival stations are identical"))
	}

	today := truncateDate(time.Now())
	date := truncateDate(q.Date)
	if date.Before(today) {
		errs = append(errs, errors.New("departure date is in the past"))
	}
	if date.After(today.AddDate(0, 0, maxFutureDays)) {
		errs = append(errs, fmt.Errorf("departure date is more than %d days ahead", maxFutureDays))
	}

	if q.WindowEnd.Minutes() <= q.WindowStart.Minutes() {
		errs = append(errs, errors.New("time window end must be after start"))
	}

	if _, ok := trainClassCodes[q.TrainClass]; !ok {
		errs = append(errs, fmt.Errorf("unknown train class %q", q.TrainClass))
	}
	if _, ok := seatClassCodes[q.SeatClass]; !ok {
		errs = append(errs, fmt.Errorf("unknown seat class %q", q.SeatClass))
	}

	if q.Passengers < 1 || q.Passengers > 9 {
		errs = append(errs, errors.New("passenger count must be between 1 and 9"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("korail: invalid query: %w", errors.Join(errs...))
	}
	return nil
}

// Summary is a one-line human-readable description used in logs.
func (q TrainQuery) Summary() string {
	return fmt.Sprintf("%s→%s %s %s~%s %s %s %d명",
		q.Departure, q.Arrival, q.Date.Format("2006-01-02"),
		q.WindowStart, q.WindowEnd, q.TrainClass, q.SeatClass, q.Passengers)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TrainInfo is one scheduled train as returned by the endpoint, immutable
// after construction.
type TrainInfo struct {
	TrainNo         string
	TrainType       string
	DepartureTime   ClockTime
	ArrivalTime     ClockTime
	GeneralSeats    int
	SpecialSeats    int
	DurationMinutes int
}

// HasSeats reports whether the train has any general or special seats left.
func (t TrainInfo) HasSeats() bool { return t.GeneralSeats > 0 || t.SpecialSeats > 0 }

// Display renders the train for notifications and logs, e.g.
// "KTX 001호 08:00→10:30 (일반 5석 / 특실 2석)".
func (t TrainInfo) Display() string {
	s := fmt.Sprintf("%s %s호 %s→%s", t.TrainType, t.TrainNo, t.DepartureTime, t.ArrivalTime)
	switch {
	case t.GeneralSeats > 0 && t.SpecialSeats > 0:
		s += fmt.Sprintf(" (일반 %d석 / 특실 %d석)", t.GeneralSeats, t.SpecialSeats)
	case t.GeneralSeats > 0:
		s += fmt.Sprintf(" (일반 %d석)", t.GeneralSeats)
	case t.SpecialSeats > 0:
		s += fmt.Sprintf(" (특실 %d석)", t.SpecialSeats)
	}
	return s
}

// calcDuration returns the journey length in minutes, adding a day when the
// arrival wall-clock is numerically at or before the departure (midnight
// crossing).
func calcDuration(dep, arr ClockTime) int {
	diff := arr.Minutes() - dep.Minutes()
	if diff <= 0 {
		diff += 24 * 60
	}
	return diff
}

// CheckResult is the outcome of one complete availability poll. Trains holds
// the window-filtered schedule in endpoint order across all pages.
type CheckResult struct {
	Timestamp       time.Time
	Trains          []TrainInfo
	SeatsAvailable  bool
	RawResponseSize int
}

// AvailableTrains returns the subset of Trains that still have seats.
func (r CheckResult) AvailableTrains() []TrainInfo {
	var out []TrainInfo
	for _, t := range r.Trains {
		if t.HasSeats() {
			out = append(out, t)
		}
	}
	return out
}
