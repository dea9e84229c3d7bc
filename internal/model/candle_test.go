package model

import (
	"math"
	"testing"
)

func TestBar_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bar     Bar
		wantErr bool
	}{
		{"valid", Bar{Time: 100, Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}, false},
		{"flat", Bar{Time: 100, Open: 10, High: 10, Low: 10, Close: 10}, false},
		{"zero price", Bar{Time: 100, Open: 0, High: 12, Low: 9, Close: 11}, true},
		{"negative volume", Bar{Time: 100, Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}, true},
		{"low above body", Bar{Time: 100, Open: 10, High: 12, Low: 10.5, Close: 11}, true},
		{"high below body", Bar{Time: 100, Open: 10, High: 10.5, Low: 9, Close: 11}, true},
		{"nan close", Bar{Time: 100, Open: 10, High: 12, Low: 9, Close: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
