package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTargets(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
		want    []string
		wantErr bool
	}{
		{
			name:    "single address",
			targets: []string{"192.168.1.50"},
			want:    []string{"192.168.1.50"},
		},
		{
			name:    "last octet range",
			targets: []string{"10.0.0.10-12"},
			want:    []string{"10.0.0.10", "10.0.0.11", "10.0.0.12"},
		},
		{
			name:    "small cidr skips network and broadcast",
			targets: []string{"192.168.1.0/30"},
			want:    []string{"192.168.1.1", "192.168.1.2"},
		},
		{
			name:    "slash 32 keeps the address",
			targets: []string{"192.168.1.9/32"},
			want:    []string{"192.168.1.9"},
		},
		{
			name:    "multiple entries concatenate",
			targets: []string{"10.0.0.1", "10.0.0.5-6"},
			want:    []string{"10.0.0.1", "10.0.0.5", "10.0.0.6"},
		},
		{
			name:    "blank entries are skipped",
			targets: []string{" ", "10.0.0.1"},
			want:    []string{"10.0.0.1"},
		},
		{
			name:    "garbage is rejected",
			targets: []string{"not-an-ip"},
			wantErr: true,
		},
		{
			name:    "inverted range is rejected",
			targets: []string{"10.0.0.50-10"},
			wantErr: true,
		},
		{
			name:    "octet out of bounds is rejected",
			targets: []string{"10.0.0.250-300"},
			wantErr: true,
		},
		{
			name:    "ipv6 is rejected",
			targets: []string{"2001:db8::/120"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandTargets(tt.targets)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandTargetsRangeLimit(t *testing.T) {
	_, err := expandTargets([]string{"10.0.0.0/8"})
	assert.ErrorIs(t, err, errScanRangeTooBig)
}

func TestExpandCIDRSlash24Count(t *testing.T) {
	got, err := expandTargets([]string{"172.16.5.0/24"})
	require.NoError(t, err)

	assert.Len(t, got, 254)
	assert.Equal(t, "172.16.5.1", got[0])
	assert.Equal(t, "172.16.5.254", got[len(got)-1])
}
