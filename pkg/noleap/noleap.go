// Package noleap converts model time coordinates into calendar dates.
//
// The simulation writes its time axis as a day count since a reference date
// using a 365-day calendar: every year has exactly 365 days and February
// never has a 29th. Converting such a count with a proleptic Gregorian
// calendar drifts by one day every leap year, so the conversion here walks
// the no-leap calendar explicitly.
package noleap

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DaysPerYear is the fixed year length of the no-leap calendar.
const DaysPerYear = 365

// maxAbsDays bounds accepted coordinates to +/- one million years.
const maxAbsDays = DaysPerYear * 1_000_000

// DefaultEpoch is the reference date of the simulation's time coordinate.
var DefaultEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// cumDays[m] is the number of days before month m+1 (0-based month index).
var cumDays = func() [13]int {
	var c [13]int
	for i, d := range monthDays {
		c[i+1] = c[i] + d
	}
	return c
}()

// ErrMalformedTimeCoordinate indicates a time coordinate (or epoch) that
// cannot be placed on the no-leap calendar.
var ErrMalformedTimeCoordinate = errors.New("malformed time coordinate")

// MalformedError describes a single offending coordinate.
type MalformedError struct {
	// Index is the position of the value in the input, or -1 for the epoch.
	Index int

	// Value is the offending coordinate.
	Value float64

	// Reason is a short description (e.g. "not finite").
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("noleap: epoch: %s", e.Reason)
	}
	return fmt.Sprintf("noleap: coordinate %d (%v): %s", e.Index, e.Value, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedTimeCoordinate
}

// ToDates maps every coordinate t to epoch + t days on the no-leap calendar.
//
// Fractional coordinates are floored to whole days. Negative coordinates
// are valid and land before the epoch. The returned dates are UTC midnight.
func ToDates(coords []float64, epoch time.Time) ([]time.Time, error) {
	base, err := epochOrdinal(epoch)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, len(coords))
	for i, c := range coords {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, &MalformedError{Index: i, Value: c, Reason: "not finite"}
		}
		days := math.Floor(c)
		if math.Abs(days) > maxAbsDays {
			return nil, &MalformedError{Index: i, Value: c, Reason: "out of range"}
		}
		out[i] = fromOrdinal(base + int64(days))
	}
	return out, nil
}

// ToDate converts a single whole-day coordinate.
func ToDate(days int64, epoch time.Time) (time.Time, error) {
	base, err := epochOrdinal(epoch)
	if err != nil {
		return time.Time{}, err
	}
	if days > maxAbsDays || days < -maxAbsDays {
		return time.Time{}, &MalformedError{Index: 0, Value: float64(days), Reason: "out of range"}
	}
	return fromOrdinal(base + days), nil
}

// FromDate is the inverse of ToDate: the number of no-leap days between
// epoch and d. February 29 has no position on the calendar and is rejected.
func FromDate(d time.Time, epoch time.Time) (int64, error) {
	base, err := epochOrdinal(epoch)
	if err != nil {
		return 0, err
	}
	o, err := ordinal(d)
	if err != nil {
		return 0, err
	}
	return o - base, nil
}

func epochOrdinal(epoch time.Time) (int64, error) {
	o, err := ordinal(epoch)
	if err != nil {
		return 0, &MalformedError{Index: -1, Reason: "february 29 does not exist in a no-leap calendar"}
	}
	return o, nil
}

// ordinal counts no-leap days since 0000-01-01.
func ordinal(d time.Time) (int64, error) {
	y, m, day := d.Date()
	if m == time.February && day == 29 {
		return 0, &MalformedError{Index: 0, Reason: "february 29 does not exist in a no-leap calendar"}
	}
	return int64(y)*DaysPerYear + int64(cumDays[m-1]+day-1), nil
}

func fromOrdinal(o int64) time.Time {
	year := floorDiv(o, DaysPerYear)
	doy := int(o - year*DaysPerYear)

	month := 0
	for month < 11 && doy >= cumDays[month+1] {
		month++
	}
	day := doy - cumDays[month] + 1
	return time.Date(int(year), time.Month(month+1), day, 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
