package markethours

import (
	"testing"
	"time"
)

func ist(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid-session wednesday", ist(time.August, 26, 11, 0), true},
		{"at the opening bell", ist(time.August, 26, 9, 15), true},
		{"one minute before open", ist(time.August, 26, 9, 14), false},
		{"at the closing bell", ist(time.August, 26, 15, 30), false},
		{"last session minute", ist(time.August, 26, 15, 29), true},
		{"saturday", ist(time.August, 29, 11, 0), false},
		{"sunday", ist(time.August, 30, 11, 0), false},
		{"independence day", ist(time.August, 15, 11, 0), false},
		{"christmas", ist(time.December, 25, 11, 0), false},
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsMarketOpen_UTCInput(t *testing.T) {
	// 05:30 UTC is 11:00 IST on a trading Wednesday.
	at := time.Date(2026, time.August, 26, 5, 30, 0, 0, time.UTC)
	if !IsMarketOpen(at) {
		t.Error("UTC timestamp inside the session reported closed")
	}
}

func TestNextOpen(t *testing.T) {
	// Early on a trading day: same day's bell.
	got := NextOpen(ist(time.August, 26, 7, 0))
	if want := ist(time.August, 26, 9, 15); !got.Equal(want) {
		t.Errorf("pre-bell NextOpen = %v, want %v", got, want)
	}

	// After the close on Friday: skips the weekend to Monday.
	got = NextOpen(ist(time.August, 28, 16, 0))
	if want := ist(time.August, 31, 9, 15); !got.Equal(want) {
		t.Errorf("friday-evening NextOpen = %v, want %v", got, want)
	}

	// The day before a holiday weekend run: Oct 2 2026 is Gandhi
	// Jayanti (Friday), so Thursday evening rolls to Monday Oct 5.
	got = NextOpen(ist(time.October, 1, 18, 0))
	if want := ist(time.October, 5, 9, 15); !got.Equal(want) {
		t.Errorf("pre-holiday NextOpen = %v, want %v", got, want)
	}
}

func TestWSConnectTime(t *testing.T) {
	open := ist(time.August, 26, 9, 15)
	if got, want := WSConnectTime(open), ist(time.August, 26, 9, 14); !got.Equal(want) {
		t.Errorf("WSConnectTime = %v, want %v", got, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if got := TimeUntilClose(ist(time.August, 26, 15, 0)); got != 30*time.Minute {
		t.Errorf("TimeUntilClose mid-session = %v, want 30m", got)
	}
	if got := TimeUntilClose(ist(time.August, 26, 16, 0)); got != 0 {
		t.Errorf("TimeUntilClose after close = %v, want 0", got)
	}
}

func TestIsHoliday_OtherYearsPassThrough(t *testing.T) {
	jan26of2027 := time.Date(2027, time.January, 26, 11, 0, 0, 0, IST)
	if IsHoliday(jan26of2027) {
		t.Error("2027 date matched the 2026 holiday table")
	}
}

func TestStatusString(t *testing.T) {
	open := StatusString(ist(time.August, 26, 11, 0))
	if open == "" || open[:11] != "Market Open" {
		t.Errorf("open-session status = %q", open)
	}
	closed := StatusString(ist(time.August, 29, 11, 0))
	if closed == "" || closed[:13] != "Market Closed" {
		t.Errorf("weekend status = %q", closed)
	}
}
