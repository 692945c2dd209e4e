package availability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func block(r TimeRange, reason string) BookedInterval {
	return BookedInterval{ResourceID: "P1", Range: r, Kind: KindUnavailable, Reason: reason}
}

func TestMergeUnavailable_TouchingIsContiguous(t *testing.T) {
	in := []BookedInterval{
		block(rng(9, 50, 10, 0), "c"),
		block(rng(9, 0, 9, 30), ""),
		block(rng(9, 20, 9, 50), "b"),
	}
	out := MergeUnavailable("P1", in, at(8, 0), at(18, 0))
	if len(out) != 1 {
		t.Fatalf("expected 1 range, got %d: %+v", len(out), out)
	}
	if !out[0].Range.Start.Equal(at(9, 0)) || !out[0].Range.End.Equal(at(10, 0)) {
		t.Fatalf("unexpected range %v", out[0].Range)
	}
	if out[0].Reason != "b" {
		t.Fatalf("expected first non-empty reason, got %q", out[0].Reason)
	}
}

func TestMergeUnavailable_NonAdjacent(t *testing.T) {
	in := []BookedInterval{block(rng(9, 0, 9, 30), ""), block(rng(9, 45, 10, 0), "")}
	out := MergeUnavailable("P1", in, at(8, 0), at(18, 0))
	if len(out) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(out))
	}
}

func TestMergeUnavailable_ClipsAndDiscards(t *testing.T) {
	in := []BookedInterval{
		block(rng(6, 0, 8, 30), "early"),
		block(rng(5, 0, 7, 0), "outside"),
		block(rng(17, 30, 20, 0), "late"),
		appt(rng(12, 0, 13, 0)),
		{ResourceID: "P2", Range: rng(12, 0, 13, 0), Kind: KindUnavailable},
	}
	out := MergeUnavailable("P1", in, at(8, 0), at(18, 0))
	if len(out) != 2 {
		t.Fatalf("expected 2 ranges, got %d: %+v", len(out), out)
	}
	if !out[0].Range.Start.Equal(at(8, 0)) || !out[0].Range.End.Equal(at(8, 30)) {
		t.Fatalf("expected clipped start range, got %v", out[0].Range)
	}
	if !out[1].Range.End.Equal(at(18, 0)) {
		t.Fatalf("expected clipped end, got %v", out[1].Range)
	}
}

func TestCheckSelection(t *testing.T) {
	blocks := MergeUnavailable("P1", []BookedInterval{block(rng(9, 0, 10, 0), "Ward round")}, at(8, 0), at(18, 0))

	err := CheckSelection("P1", rng(9, 30, 10, 0), blocks)
	if !errors.Is(err, ErrSelectionBlocked) {
		t.Fatalf("expected blocked selection, got %v", err)
	}
	var selErr *SelectionError
	if !errors.As(err, &selErr) || selErr.Block.Reason != "Ward round" || selErr.ResourceID != "P1" {
		t.Fatalf("expected selection error with reason, got %v", err)
	}

	if err := CheckSelection("P1", rng(10, 0, 10, 30), blocks); err != nil {
		t.Fatalf("expected selection after block to be accepted, got %v", err)
	}
}

type staticRanges map[string][]UnavailableRange

func (s staticRanges) UnavailableRanges(_ context.Context, resourceID, date string) ([]UnavailableRange, error) {
	return s[resourceID+"|"+date], nil
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(staticRanges{
		"P1|2026-01-28": {{Range: rng(9, 0, 10, 0), Reason: "Surgery"}},
	}, nil)
	ctx := context.Background()
	if err := v.Validate(ctx, "P1", "2026-01-28", rng(9, 30, 10, 0)); !errors.Is(err, ErrSelectionBlocked) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := v.Validate(ctx, "P2", "2026-01-28", rng(9, 30, 10, 0)); err != nil {
		t.Fatalf("resource without blocks must accept, got %v", err)
	}
}

type fixedZone struct{ loc *time.Location }

func (f fixedZone) Location(context.Context, string) (*time.Location, error) { return f.loc, nil }

func TestValidator_UsesResourceLocalDates(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	localMorning := time.Date(2026, 1, 28, 9, 0, 0, 0, sydney)
	v := NewValidator(staticRanges{
		"P1|2026-01-28": {{Range: TimeRange{Start: localMorning, End: localMorning.Add(2 * time.Hour)}, Reason: "Theatre"}},
	}, fixedZone{loc: sydney})
	ctx := context.Background()

	// 2026-01-27T23:00Z is 10:00 on the 28th in Sydney.
	sel := TimeRange{Start: time.Date(2026, 1, 27, 23, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 27, 23, 30, 0, 0, time.UTC)}
	if err := v.Validate(ctx, "P1", "", sel); !errors.Is(err, ErrSelectionBlocked) {
		t.Fatalf("expected rejection on the resource-local date, got %v", err)
	}
}

func TestValidator_ChecksEveryDateSpanned(t *testing.T) {
	nextMorning := day.AddDate(0, 0, 1)
	v := NewValidator(staticRanges{
		"P1|2026-01-29": {{Range: TimeRange{Start: nextMorning, End: nextMorning.Add(8 * time.Hour)}, Reason: "Leave"}},
	}, fixedZone{loc: time.UTC})

	sel := TimeRange{Start: at(22, 0), End: nextMorning.Add(time.Hour)}
	if err := v.Validate(context.Background(), "P1", "2026-01-28", sel); !errors.Is(err, ErrSelectionBlocked) {
		t.Fatalf("expected rejection from the following day, got %v", err)
	}
}

func TestDatesSpanned(t *testing.T) {
	start := time.Date(2026, 1, 28, 17, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		end  time.Time
		want []string
	}{
		{"same day", start.Add(2 * time.Hour), []string{"2026-01-28"}},
		{"ends at midnight", time.Date(2026, 1, 29, 0, 0, 0, 0, time.UTC), []string{"2026-01-28"}},
		{"three days", time.Date(2026, 1, 30, 9, 0, 0, 0, time.UTC), []string{"2026-01-28", "2026-01-29", "2026-01-30"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DatesSpanned(time.UTC, TimeRange{Start: start, End: tc.end})
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}
