package scheduler

import (
	"testing"
	"time"
)

// --- Cron Tests ---

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},
		{"*/15 * * * *", false},
		{"@daily", false},
		{"0 2 * *", true},
		{"61 * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidateCronExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q): err=%v, wantErr=%v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNextRun(t *testing.T) {
	schedule, err := ParseCron("0 2 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	from := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	got := NextRun(schedule, from, nil)
	want := time.Date(2026, 5, 11, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}

	loc := time.FixedZone("UTC+3", 3*60*60)
	got = NextRun(schedule, from, loc)
	want = time.Date(2026, 5, 10, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s in UTC+3, got %s", want, got)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC result, got %s", got.Location())
	}
}

func TestLoadLocation_Fallback(t *testing.T) {
	if loc := loadLocation("Nowhere/Invalid"); loc != time.UTC {
		t.Errorf("expected UTC fallback, got %s", loc)
	}
	if loc := loadLocation(""); loc != time.UTC {
		t.Errorf("expected UTC for empty name, got %s", loc)
	}
}
