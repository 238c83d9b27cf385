package scheduler

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func mustEntry(t *testing.T, entry Entry) *Entry {
	t.Helper()
	if err := entry.Validate(); err != nil {
		t.Fatalf("validate entry: %v", err)
	}
	return &entry
}

func TestEntry_ValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{name: "missing task", entry: Entry{Schedule: "* * * * *"}},
		{name: "missing schedule", entry: Entry{Task: "echo"}},
		{name: "interval schedule", entry: Entry{Task: "echo", Schedule: "@every 1m"}},
		{name: "inline zone", entry: Entry{Task: "echo", Schedule: "CRON_TZ=UTC * * * * *"}},
		{name: "six fields", entry: Entry{Task: "echo", Schedule: "0 * * * * *"}},
		{name: "out of range", entry: Entry{Task: "echo", Schedule: "61 * * * *"}},
		{name: "unknown timezone", entry: Entry{Task: "echo", Schedule: "* * * * *", Timezone: "Mars/Olympus"}},
		{name: "invalid payload", entry: Entry{Task: "echo", Schedule: "* * * * *", Payload: json.RawMessage(`{nope`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entry.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestEntry_NameDefaultsToTask(t *testing.T) {
	entry := mustEntry(t, Entry{Task: " echo ", Schedule: "* * * * *"})
	if entry.Name != "echo" {
		t.Fatalf("expected name echo, got %q", entry.Name)
	}
	if string(entry.payload()) != `{}` {
		t.Fatalf("expected empty object payload, got %s", entry.payload())
	}
}

func TestEntry_Due(t *testing.T) {
	entry := mustEntry(t, Entry{Task: "echo", Schedule: "*/15 * * * *"})
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		at   time.Time
		want bool
	}{
		{at: base.Add(15 * time.Minute), want: true},
		{at: base.Add(15*time.Minute + 42*time.Second), want: true},
		{at: base.Add(16 * time.Minute), want: false},
		{at: base.Add(14*time.Minute + 59*time.Second), want: false},
		{at: base, want: true},
	}
	for _, tc := range cases {
		if got := entry.Due(tc.at); got != tc.want {
			t.Errorf("Due(%s) = %v, want %v", tc.at.Format(time.TimeOnly), got, tc.want)
		}
	}
}

func TestEntry_DueInTimezone(t *testing.T) {
	entry := mustEntry(t, Entry{Task: "echo", Schedule: "0 3 * * *", Timezone: "Europe/Rome"})

	// 03:00 in Rome on 1 March is 02:00 UTC.
	if !entry.Due(time.Date(2024, 3, 1, 2, 0, 30, 0, time.UTC)) {
		t.Fatal("expected entry due at 02:00 UTC")
	}
	if entry.Due(time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("entry must not be due at 03:00 UTC")
	}
}

func TestEntry_NextAndDescriptors(t *testing.T) {
	entry := mustEntry(t, Entry{Task: "echo", Schedule: "@hourly"})
	from := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	if next := entry.Next(from); !next.Equal(time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next %s", next)
	}

	var unparsed Entry
	if unparsed.Due(from) || !unparsed.Next(from).IsZero() {
		t.Fatal("an unvalidated entry is never due")
	}
}

func TestEntry_ClaimKeyPerMinute(t *testing.T) {
	entry := mustEntry(t, Entry{Name: "nightly", Task: "echo", Schedule: "* * * * *"})
	minute := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if entry.claimKey(minute) == entry.claimKey(minute.Add(time.Minute)) {
		t.Fatal("claim keys must differ across minutes")
	}
	if got, want := entry.claimKey(minute), "claim:nightly:28488240"; got != want {
		t.Fatalf("claimKey = %q, want %q", got, want)
	}
}
