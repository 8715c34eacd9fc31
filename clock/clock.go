// Package clock maps wall-clock time onto the fixed daily grid of rounds.
//
// A day in the configured zone is cut into equal intervals. Interval n (1-based)
// opens with a reveal window of length R during which round n is shown; the rest
// of the interval accepts wagers for round n+1. Round ids look like 2026-02-24-R5.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultInterval = 120 * time.Second
	DefaultReveal   = 9 * time.Second
	dayKeyLayout    = "2006-01-02"
)

// KST is the default zone for day keys (UTC+9, no DST).
var KST = time.FixedZone("KST", 9*60*60)

var ErrInvalidRoundID = errors.New("clock: invalid round id")

// Clock is pure: every answer is a function of the instant passed in.
type Clock struct {
	interval time.Duration
	reveal   time.Duration
	loc      *time.Location
}

// Info is the state of the grid at one instant.
type Info struct {
	Now            time.Time `json:"now"`
	DayKey         string    `json:"dayKey"`
	RevealRoundNo  int       `json:"revealRoundNo"`
	RevealRoundID  string    `json:"revealRoundId"`
	BettingDayKey  string    `json:"bettingDayKey"`
	BettingRoundNo int       `json:"bettingRoundNo"`
	BettingRoundID string    `json:"bettingRoundId"`
	InReveal       bool      `json:"inReveal"`
	RoundStart     time.Time `json:"roundStart"`
	NextRoundAt    time.Time `json:"nextRoundAt"`
}

// SecondsLeft is the countdown until the next interval opens.
func (i Info) SecondsLeft() int {
	d := i.NextRoundAt.Sub(i.Now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func New(interval, reveal time.Duration, loc *time.Location) (*Clock, error) {
	if interval <= 0 || reveal <= 0 {
		return nil, fmt.Errorf("clock.New: interval and reveal must be positive (got %s, %s)", interval, reveal)
	}
	if reveal >= interval {
		return nil, fmt.Errorf("clock.New: reveal %s must be shorter than interval %s", reveal, interval)
	}
	if (24*time.Hour)%interval != 0 {
		return nil, fmt.Errorf("clock.New: interval %s does not divide a day", interval)
	}
	if loc == nil {
		loc = KST
	}
	return &Clock{interval: interval, reveal: reveal, loc: loc}, nil
}

// Default is the 2 minute / 9 second grid in KST.
func Default() *Clock {
	return &Clock{interval: DefaultInterval, reveal: DefaultReveal, loc: KST}
}

func (c *Clock) Interval() time.Duration { return c.interval }
func (c *Clock) Reveal() time.Duration   { return c.reveal }
func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) RoundsPerDay() int {
	return int(24 * time.Hour / c.interval)
}

func (c *Clock) dayStart(now time.Time) time.Time {
	y, m, d := now.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// At computes the reveal and betting rounds for now. The betting id is derived
// separately from the reveal id because it rolls over to the next day's key.
func (c *Clock) At(now time.Time) Info {
	start := c.dayStart(now)
	tick := int(now.Sub(start) / c.interval)
	roundStart := start.Add(time.Duration(tick) * c.interval)

	revealNo := tick + 1
	dayKey := start.Format(dayKeyLayout)

	bettingNo := revealNo + 1
	bettingDay := dayKey
	if bettingNo > c.RoundsPerDay() {
		bettingNo = 1
		bettingDay = start.AddDate(0, 0, 1).Format(dayKeyLayout)
	}

	return Info{
		Now:            now,
		DayKey:         dayKey,
		RevealRoundNo:  revealNo,
		RevealRoundID:  FormatRoundID(dayKey, revealNo),
		BettingDayKey:  bettingDay,
		BettingRoundNo: bettingNo,
		BettingRoundID: FormatRoundID(bettingDay, bettingNo),
		InReveal:       !now.Before(roundStart) && now.Before(roundStart.Add(c.reveal)),
		RoundStart:     roundStart,
		NextRoundAt:    roundStart.Add(c.interval),
	}
}

// RoundStart returns the instant round id's reveal window opens.
func (c *Clock) RoundStart(id string) (time.Time, error) {
	day, n, err := ParseRoundID(id)
	if err != nil {
		return time.Time{}, err
	}
	if n > c.RoundsPerDay() {
		return time.Time{}, fmt.Errorf("%w: %q exceeds %d rounds per day", ErrInvalidRoundID, id, c.RoundsPerDay())
	}
	d, err := time.ParseInLocation(dayKeyLayout, day, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidRoundID, id, err)
	}
	return d.Add(time.Duration(n-1) * c.interval), nil
}

// Revealed reports whether id's reveal window has opened by now.
func (c *Clock) Revealed(id string, now time.Time) (bool, error) {
	start, err := c.RoundStart(id)
	if err != nil {
		return false, err
	}
	return !now.Before(start), nil
}

// Previous returns up to n round ids ending at id, newest first, crossing into
// earlier days when needed.
func (c *Clock) Previous(id string, n int) ([]string, error) {
	start, err := c.RoundStart(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		info := c.At(start.Add(-time.Duration(i) * c.interval))
		out = append(out, info.RevealRoundID)
	}
	return out, nil
}

func FormatRoundID(dayKey string, n int) string {
	return dayKey + "-R" + strconv.Itoa(n)
}

// ParseRoundID splits "YYYY-MM-DD-R{n}" into its day key and round number.
func ParseRoundID(id string) (string, int, error) {
	i := strings.LastIndex(id, "-R")
	if i != len(dayKeyLayout) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, id)
	}
	day := id[:i]
	if _, err := time.Parse(dayKeyLayout, day); err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, id)
	}
	n, err := strconv.Atoi(id[i+2:])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, id)
	}
	return day, n, nil
}
