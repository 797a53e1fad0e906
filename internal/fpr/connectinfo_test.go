package fpr_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dantte-lp/fpr/internal/fpr"
)

func TestConnectInfoRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ci   fpr.ConnectInfo
	}{
		{
			name: "discovery beacon without keys",
			ci: fpr.ConnectInfo{
				Name:       "host-a",
				MAC:        macHost,
				Visibility: fpr.VisibilityPublic,
			},
		},
		{
			name: "step one with pwk only",
			ci: fpr.ConnectInfo{
				Name:   "h",
				MAC:    macHost,
				PWK:    [fpr.KeySize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
				HasPWK: true,
			},
		},
		{
			name: "step two with both keys private host",
			ci: fpr.ConnectInfo{
				Name:       "c",
				MAC:        macClient,
				Visibility: fpr.VisibilityPrivate,
				PWK:        [fpr.KeySize]byte{0xFF, 0xEE, 0xDD},
				LWK:        [fpr.KeySize]byte{0xAA, 0xBB, 0xCC},
				HasPWK:     true,
				HasLWK:     true,
			},
		},
		{
			name: "maximum length name",
			ci: fpr.ConnectInfo{
				Name: strings.Repeat("x", fpr.NameSize-1),
				MAC:  macThird,
			},
		},
		{
			name: "empty name",
			ci:   fpr.ConnectInfo{MAC: macThird},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, n, err := tt.ci.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			got, err := fpr.UnmarshalConnectInfo(payload[:n])
			if err != nil {
				t.Fatalf("UnmarshalConnectInfo: %v", err)
			}

			if *got != tt.ci {
				t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", *got, tt.ci)
			}
		})
	}
}

func TestConnectInfoNameTooLong(t *testing.T) {
	t.Parallel()

	ci := fpr.ConnectInfo{Name: strings.Repeat("x", fpr.NameSize)}

	if _, _, err := ci.Marshal(); !errors.Is(err, fpr.ErrNameTooLong) {
		t.Errorf("Marshal long name error = %v, want ErrNameTooLong", err)
	}
}

func TestUnmarshalConnectInfoTruncated(t *testing.T) {
	t.Parallel()

	if _, err := fpr.UnmarshalConnectInfo(make([]byte, 10)); err == nil {
		t.Error("UnmarshalConnectInfo on truncated payload succeeded, want error")
	}
}
