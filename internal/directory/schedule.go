package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/booking-wizard/internal/booking"
	"github.com/wolfman30/booking-wizard/internal/wizard"
)

// shift is one row of doctor_schedules. Minutes count from midnight.
type shift struct {
	startMinute int
	endMinute   int
	slotMinutes int
	capacity    int
}

// starts lists the slot start minutes inside the shift.
func (s shift) starts() []int {
	if s.slotMinutes <= 0 {
		return nil
	}
	var out []int
	for m := s.startMinute; m+s.slotMinutes <= s.endMinute; m += s.slotMinutes {
		out = append(out, m)
	}
	return out
}

func (s shift) contains(startMinute, endMinute int) bool {
	if startMinute < s.startMinute || endMinute > s.endMinute {
		return false
	}
	return endMinute-startMinute == s.slotMinutes && (startMinute-s.startMinute)%s.slotMinutes == 0
}

// wallClock is the time minute minutes past midnight on day's calendar date,
// read off the clock in day's zone. On DST change days it differs from
// day.Add(minute * time.Minute).
func wallClock(day time.Time, minute int) time.Time {
	y, m, dd := day.Date()
	return time.Date(y, m, dd, minute/60, minute%60, 0, 0, day.Location())
}

// minuteOfDay is the inverse of wallClock.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (d *Directory) today() time.Time {
	now := d.now().In(d.loc)
	y, m, day := now.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.loc)
}

// dates lists the doctor's working days from today through the window.
func (d *Directory) dates(ctx context.Context, doctor string) ([]wizard.Candidate, error) {
	doctorID, err := parseDoctor(doctor)
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(ctx, `SELECT DISTINCT weekday FROM doctor_schedules WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("directory: list working days: %w", err)
	}
	defer rows.Close()

	working := make(map[time.Weekday]bool, 7)
	for rows.Next() {
		var wd int
		if err := rows.Scan(&wd); err != nil {
			return nil, fmt.Errorf("directory: scan weekday: %w", err)
		}
		working[time.Weekday(wd)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: list working days: %w", err)
	}

	items := []wizard.Candidate{}
	day := d.today()
	for i := 0; i < d.window; i++ {
		date := day.AddDate(0, 0, i)
		if working[date.Weekday()] {
			items = append(items, wizard.Candidate{
				Value: date.Format(booking.DateLayout),
				Label: date.Format("Mon 2 Jan 2006"),
			})
		}
	}
	return items, nil
}

func (d *Directory) shifts(ctx context.Context, q querier, doctorID int64, weekday time.Weekday) ([]shift, error) {
	sql := `
		SELECT start_minute, end_minute, slot_minutes, capacity
		FROM doctor_schedules
		WHERE doctor_id = $1 AND weekday = $2
		ORDER BY start_minute
	`
	rows, err := q.Query(ctx, sql, doctorID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("directory: load schedule: %w", err)
	}
	defer rows.Close()

	var out []shift
	for rows.Next() {
		var s shift
		if err := rows.Scan(&s.startMinute, &s.endMinute, &s.slotMinutes, &s.capacity); err != nil {
			return nil, fmt.Errorf("directory: scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// slots lists the doctor's slots on date with their remaining capacity.
// Slots that already started are left out.
func (d *Directory) slots(ctx context.Context, doctor, date string) ([]wizard.Candidate, error) {
	doctorID, err := parseDoctor(doctor)
	if err != nil {
		return nil, err
	}
	day, err := booking.ParseDate(date, d.loc)
	if err != nil {
		return nil, fmt.Errorf("directory: date %q: %w", date, err)
	}
	shifts, err := d.shifts(ctx, d.db, doctorID, day.Weekday())
	if err != nil {
		return nil, err
	}
	booked, err := d.bookedCounts(ctx, doctorID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	now := d.now()
	items := []wizard.Candidate{}
	for _, s := range shifts {
		for _, m := range s.starts() {
			start := wallClock(day, m)
			if start.Before(now) {
				continue
			}
			end := wallClock(day, m+s.slotMinutes)
			remaining := s.capacity - booked[start.Unix()]
			if remaining < 0 {
				remaining = 0
			}
			items = append(items, wizard.Candidate{
				Value:     booking.FormatSlot(start, end),
				Label:     start.Format("15:04"),
				Capacity:  s.capacity,
				Remaining: remaining,
			})
		}
	}
	return items, nil
}

func (d *Directory) bookedCounts(ctx context.Context, doctorID int64, from, to time.Time) (map[int64]int, error) {
	sql := `
		SELECT starts_at, count(*)
		FROM appointments
		WHERE doctor_id = $1 AND status = 'booked' AND starts_at >= $2 AND starts_at < $3
		GROUP BY starts_at
	`
	rows, err := d.db.Query(ctx, sql, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("directory: count bookings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var (
			at    time.Time
			count int64
		)
		if err := rows.Scan(&at, &count); err != nil {
			return nil, fmt.Errorf("directory: scan booking count: %w", err)
		}
		out[at.Unix()] = int(count)
	}
	return out, rows.Err()
}
