package analysis

import (
	"errors"
	"strings"
	"testing"

	"cryptopulse/internal/model"
)

func TestFormatSnapshot(t *testing.T) {
	bars := []model.Bar{
		{Time: 1700000000, Open: 100, High: 101.5, Low: 99.25, Close: 101, Volume: 12.5},
		{Time: 1700000060, Open: 101, High: 102, Low: 100, Close: 100.5, Volume: 0},
	}
	got := FormatSnapshot(bars)
	want := "T: 1700000000, O: 100, H: 101.5, L: 99.25, C: 101, V: 12.5; " +
		"T: 1700000060, O: 101, H: 102, L: 100, C: 100.5, V: 0"
	if got != want {
		t.Errorf("FormatSnapshot =\n%q\nwant\n%q", got, want)
	}
}

func TestFormatSnapshot_KeepsNewest50(t *testing.T) {
	bars := make([]model.Bar, 80)
	for i := range bars {
		bars[i] = model.Bar{Time: int64(i), Open: 1, High: 1, Low: 1, Close: 1}
	}
	entries := strings.Split(FormatSnapshot(bars), "; ")
	if len(entries) != SnapshotBars {
		t.Fatalf("entries = %d, want %d", len(entries), SnapshotBars)
	}
	if !strings.HasPrefix(entries[0], "T: 30,") || !strings.HasPrefix(entries[49], "T: 79,") {
		t.Errorf("first/last = %q / %q", entries[0], entries[49])
	}
	if FormatSnapshot(nil) != "" {
		t.Error("empty series should format to empty string")
	}
}

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantMime string
		wantErr  bool
	}{
		{"png", "data:image/png;base64,aGVsbG8=", "image/png", false},
		{"jpeg", "data:image/jpeg;base64,aGVsbG8=", "image/jpeg", false},
		{"no prefix", "image/png;base64,aGVsbG8=", "", true},
		{"not base64", "data:image/png,hello", "", true},
		{"not image", "data:text/plain;base64,aGVsbG8=", "", true},
		{"bad payload", "data:image/png;base64,!!!", "", true},
		{"empty payload", "data:image/png;base64,", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, payload, err := ParseDataURI(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImage) {
					t.Errorf("err = %v, want ErrInvalidImage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mime != tt.wantMime || payload != "aGVsbG8=" {
				t.Errorf("got %q %q", mime, payload)
			}
		})
	}
}
