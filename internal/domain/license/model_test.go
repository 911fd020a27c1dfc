package license

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLicense_EffectiveState(t *testing.T) {
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		status    LicenseStatus
		expiresAt time.Time
		want      EffectiveState
	}{
		{"active and unexpired", StatusActive, now.Add(time.Hour), StateActive},
		{"active at exact expiry", StatusActive, now, StateActive},
		{"active but lapsed", StatusActive, now.Add(-time.Second), StateExpired},
		{"revoked", StatusRevoked, now.Add(time.Hour), StateInactive},
		{"revoked and lapsed", StatusRevoked, now.Add(-time.Hour), StateInactive},
		{"inactive", StatusInactive, now.Add(time.Hour), StateInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := &License{Status: tt.status, ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, lic.EffectiveState(now))
		})
	}
}

func TestLicense_EffectiveStatusDoesNotMutate(t *testing.T) {
	now := time.Now()
	lic := &License{Status: StatusActive, ExpiresAt: now.Add(-time.Minute)}

	assert.Equal(t, StatusExpired, lic.EffectiveStatus(now))
	assert.Equal(t, StatusActive, lic.Status)
}

func TestLicense_RecordAccess(t *testing.T) {
	first := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)

	lic := &License{Status: StatusActive}

	lic.RecordAccess(first, "10.0.0.1", "curl/8.0")
	require.NotNil(t, lic.ActivatedAt)
	assert.Equal(t, first, *lic.ActivatedAt)
	assert.Equal(t, first, *lic.LastAccessedAt)
	assert.EqualValues(t, 1, lic.AccessCount)

	lic.RecordAccess(second, "10.0.0.1", "")
	lic.RecordAccess(second, "10.0.0.2", "Mozilla/5.0")

	assert.Equal(t, first, *lic.ActivatedAt, "first activation wins")
	assert.Equal(t, second, *lic.LastAccessedAt)
	assert.EqualValues(t, 3, lic.AccessCount)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, lic.IPAddresses)
	assert.ElementsMatch(t, []string{"curl/8.0", "Mozilla/5.0"}, lic.UserAgents)
}

func TestLicense_RecordAccessBoundsTrackedValues(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	lic := &License{Status: StatusActive}

	for i := 0; i < MaxTrackedValues+20; i++ {
		lic.RecordAccess(now, fmt.Sprintf("203.0.113.%d", i), fmt.Sprintf("agent/%d", i))
	}

	assert.EqualValues(t, MaxTrackedValues+20, lic.AccessCount, "every access is still counted")
	assert.Len(t, lic.IPAddresses, MaxTrackedValues)
	assert.Len(t, lic.UserAgents, MaxTrackedValues)
	assert.Equal(t, "203.0.113.0", lic.IPAddresses[0])
}

func TestLicense_Clone(t *testing.T) {
	at := time.Now()
	lic := &License{IPAddresses: []string{"a"}, Features: []string{"f"}, ActivatedAt: &at}

	c := lic.Clone()
	c.IPAddresses[0] = "b"
	c.Features = append(c.Features, "g")
	*c.ActivatedAt = at.Add(time.Hour)

	assert.Equal(t, []string{"a"}, lic.IPAddresses)
	assert.Equal(t, []string{"f"}, lic.Features)
	assert.Equal(t, at, *lic.ActivatedAt)
}
