package system

import "testing"

func TestParseThermal(t *testing.T) {
	temp, err := parseThermal("48534\n")
	if err != nil {
		t.Fatalf("parseThermal: %v", err)
	}
	if temp != 48.534 {
		t.Errorf("temp = %g, want 48.534", temp)
	}

	if _, err := parseThermal("not-a-number"); err == nil {
		t.Error("parseThermal accepted garbage")
	}
}

func TestParseLoadAvg(t *testing.T) {
	l1, l5, l15, err := parseLoadAvg("0.52 0.58 0.59 1/189 12345\n")
	if err != nil {
		t.Fatalf("parseLoadAvg: %v", err)
	}
	if l1 != 0.52 || l5 != 0.58 || l15 != 0.59 {
		t.Errorf("loads = %g %g %g", l1, l5, l15)
	}

	if _, _, _, err := parseLoadAvg("0.52"); err == nil {
		t.Error("parseLoadAvg accepted truncated input")
	}
}

func TestParseMemInfo(t *testing.T) {
	input := "MemTotal:        3885456 kB\nMemFree:          221184 kB\nMemAvailable:    2954240 kB\n"
	total, avail, err := parseMemInfo(input)
	if err != nil {
		t.Fatalf("parseMemInfo: %v", err)
	}
	if total != 3885456*1024 {
		t.Errorf("total = %d", total)
	}
	if avail != 2954240*1024 {
		t.Errorf("available = %d", avail)
	}

	if _, _, err := parseMemInfo("MemFree: 100 kB\n"); err == nil {
		t.Error("parseMemInfo accepted input without MemTotal")
	}
}

func TestParseThrottled(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantFlags []string
	}{
		{"clear", "throttled=0x0\n", nil},
		{"under voltage now", "throttled=0x1\n", []string{"under_voltage"}},
		{
			"historic throttling",
			"throttled=0x50005\n",
			[]string{"under_voltage", "throttled", "under_voltage_occurred", "throttled_occurred"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, err := parseThrottled(tt.input)
			if err != nil {
				t.Fatalf("parseThrottled: %v", err)
			}
			if len(flags) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", flags, tt.wantFlags)
			}
			for i := range flags {
				if flags[i] != tt.wantFlags[i] {
					t.Errorf("flags[%d] = %s, want %s", i, flags[i], tt.wantFlags[i])
				}
			}
		})
	}

	if _, err := parseThrottled("garbage"); err == nil {
		t.Error("parseThrottled accepted malformed output")
	}
}
