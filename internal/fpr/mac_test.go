package fpr_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/fpr/internal/fpr"
)

func TestParseMAC(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    fpr.MAC
		wantErr bool
	}{
		{
			name: "valid lowercase",
			in:   "02:00:00:00:00:01",
			want: fpr.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		},
		{
			name: "valid uppercase",
			in:   "FF:FF:FF:FF:FF:FF",
			want: fpr.BroadcastMAC,
		},
		{
			name: "mixed case",
			in:   "aB:cD:eF:01:23:45",
			want: fpr.MAC{0xAB, 0xCD, 0xEF, 0x01, 0x23, 0x45},
		},
		{name: "too short", in: "02:00:00:00:00", wantErr: true},
		{name: "too long", in: "02:00:00:00:00:01:02", wantErr: true},
		{name: "bad separator", in: "02-00-00-00-00-01", wantErr: true},
		{name: "bad hex", in: "02:00:00:00:00:0G", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := fpr.ParseMAC(tt.in)

			if tt.wantErr {
				if !errors.Is(err, fpr.ErrInvalidMAC) {
					t.Errorf("ParseMAC(%q) error = %v, want ErrInvalidMAC", tt.in, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("ParseMAC(%q): %v", tt.in, err)
			}

			if got != tt.want {
				t.Errorf("ParseMAC(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMACStringRoundTrip(t *testing.T) {
	t.Parallel()

	mac := fpr.MAC{0x02, 0xAB, 0x00, 0x7F, 0xFE, 0x01}

	parsed, err := fpr.ParseMAC(mac.String())
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", mac.String(), err)
	}

	if parsed != mac {
		t.Errorf("round-trip = %v, want %v", parsed, mac)
	}
}

func TestMACPredicates(t *testing.T) {
	t.Parallel()

	if !fpr.BroadcastMAC.IsBroadcast() {
		t.Error("BroadcastMAC.IsBroadcast() = false")
	}

	if macHost.IsBroadcast() {
		t.Error("unicast MAC reported as broadcast")
	}

	if !fpr.ZeroMAC.IsZero() {
		t.Error("ZeroMAC.IsZero() = false")
	}

	if macHost.IsZero() {
		t.Error("unicast MAC reported as zero")
	}
}
