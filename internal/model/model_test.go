package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointRecord_MergeIsUnion(t *testing.T) {
	r := NewEndpointRecord("U1")
	assert.Equal(t, 2, r.Merge(ChannelEmail, map[string]string{"a@x.com": "e1", "b@x.com": "e2"}))

	// an existing address keeps its endpoint id
	assert.Equal(t, 1, r.Merge(ChannelEmail, map[string]string{"a@x.com": "other", "c@x.com": "e3"}))

	id, ok := r.Lookup(ChannelEmail, "a@x.com")
	assert.True(t, ok)
	assert.Equal(t, "e1", id)
	assert.Len(t, r.Channel(ChannelEmail), 3)

	_, ok = r.Lookup(ChannelSMS, "a@x.com")
	assert.False(t, ok)
}

func TestEndpointRecord_Subset(t *testing.T) {
	r := NewEndpointRecord("U1")
	r.Merge(ChannelSMS, map[string]string{"+15550001": "s1", "+15550002": "s2"})

	got := r.Subset(ChannelSMS, []string{"+15550001", "+15550009"})
	assert.Equal(t, map[string]string{"+15550001": "s1"}, got)

	var nilRecord *EndpointRecord
	_, ok := nilRecord.Lookup(ChannelSMS, "+15550001")
	assert.False(t, ok)
}

func TestEndpointRecord_MergeRecord(t *testing.T) {
	a := NewEndpointRecord("U1")
	a.Merge(ChannelSMS, map[string]string{"+1": "s1"})
	b := NewEndpointRecord("U1")
	b.Merge(ChannelSMS, map[string]string{"+1": "s9", "+2": "s2"})
	b.Merge(ChannelEmail, map[string]string{"a@x.com": "e1"})

	a.MergeRecord(b)
	assert.Equal(t, map[string]string{"+1": "s1", "+2": "s2"}, a.Endpoints[ChannelSMS])
	assert.Equal(t, map[string]string{"a@x.com": "e1"}, a.Endpoints[ChannelEmail])
}

func TestNotificationConfig_DirectoryKey(t *testing.T) {
	tests := []struct {
		name      string
		owner     string
		want      string
		secondary bool
	}{
		{"empty owner", "", "U1", false},
		{"self", "SELF", "U1", false},
		{"self lower case", "self", "U1", false},
		{"secondary contact", "C42", "C42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NotificationConfig{Owner: tt.owner}
			assert.Equal(t, tt.want, cfg.DirectoryKey("U1"))
			assert.Equal(t, tt.secondary, cfg.IsSecondaryContact())
		})
	}
}

func TestChannelType_Valid(t *testing.T) {
	assert.True(t, ChannelSMS.Valid())
	assert.True(t, ChannelAPNS.Valid())
	assert.False(t, ChannelType("FAX").Valid())
}
