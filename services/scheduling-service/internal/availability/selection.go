package availability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrSelectionBlocked = errors.New("selection falls inside an unavailable range")

// SelectionError names the block that rejected a calendar selection.
type SelectionError struct {
	ResourceID string
	Block      UnavailableRange
}

func (e *SelectionError) Error() string {
	msg := fmt.Sprintf("resource %s is unavailable from %s to %s",
		e.ResourceID, e.Block.Range.Start.Format("15:04"), e.Block.Range.End.Format("15:04"))
	if e.Block.Reason != "" {
		msg += ": " + e.Block.Reason
	}
	return msg
}

func (e *SelectionError) Unwrap() error { return ErrSelectionBlocked }

// CheckSelection rejects sel when it overlaps any of the resource's merged
// unavailable ranges, reporting the first match. Appointment conflicts are not
// checked here; the generator and the save path enforce those.
func CheckSelection(resourceID string, sel TimeRange, blocks []UnavailableRange) error {
	for _, b := range blocks {
		if Overlaps(sel, b.Range) {
			return &SelectionError{ResourceID: resourceID, Block: b}
		}
	}
	return nil
}

// RangeSource yields the merged unavailable ranges for a resource and date (YYYY-MM-DD).
type RangeSource interface {
	UnavailableRanges(ctx context.Context, resourceID, date string) ([]UnavailableRange, error)
}

// Locator resolves the timezone a resource's calendar dates are kept in.
type Locator interface {
	Location(ctx context.Context, resourceID string) (*time.Location, error)
}

type Validator struct {
	source  RangeSource
	locator Locator
}

// NewValidator checks selections against source. With a nil locator, dates
// are taken in the selection's own offset.
func NewValidator(source RangeSource, locator Locator) *Validator {
	return &Validator{source: source, locator: locator}
}

// Validate checks the dragged selection against the cached block list of
// every resource-local date it touches. date, when set, is checked first.
func (v *Validator) Validate(ctx context.Context, resourceID, date string, sel TimeRange) error {
	loc := sel.Start.Location()
	if v.locator != nil {
		l, err := v.locator.Location(ctx, resourceID)
		if err != nil {
			return fmt.Errorf("resolve resource timezone: %w", err)
		}
		loc = l
	}

	dates := DatesSpanned(loc, sel)
	if date != "" && (len(dates) == 0 || dates[0] != date) {
		dates = append([]string{date}, dates...)
	}
	seen := map[string]bool{}
	for _, d := range dates {
		if seen[d] {
			continue
		}
		seen[d] = true
		blocks, err := v.source.UnavailableRanges(ctx, resourceID, d)
		if err != nil {
			return fmt.Errorf("load unavailable ranges: %w", err)
		}
		if err := CheckSelection(resourceID, sel, blocks); err != nil {
			return err
		}
	}
	return nil
}

// DatesSpanned lists every date in loc touched by r, treating r as half-open.
// An empty range yields the date of its start.
func DatesSpanned(loc *time.Location, r TimeRange) []string {
	start, end := r.Start.In(loc), r.End.In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	dates := []string{day.Format(DateLayout)}
	for day = day.AddDate(0, 0, 1); day.Before(end); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day.Format(DateLayout))
	}
	return dates
}
