package model

import "time"

// ChannelType is the provider channel an endpoint is registered on
type ChannelType string

const (
	ChannelSMS   ChannelType = "SMS"
	ChannelEmail ChannelType = "EMAIL"
	ChannelGCM   ChannelType = "GCM"
	ChannelAPNS  ChannelType = "APNS"
)

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelGCM, ChannelAPNS:
		return true
	}
	return false
}

// EndpointRecord maps, per user, channel -> address -> provider endpoint id.
// Addresses are plain text here; see StoredEndpointRecord for the persisted form.
type EndpointRecord struct {
	UserID    string
	Endpoints map[ChannelType]map[string]string
	UpdatedAt time.Time
}

func NewEndpointRecord(userID string) *EndpointRecord {
	return &EndpointRecord{
		UserID:    userID,
		Endpoints: make(map[ChannelType]map[string]string),
	}
}

// Channel returns the address map for a channel, never nil.
func (r *EndpointRecord) Channel(channel ChannelType) map[string]string {
	if r.Endpoints == nil {
		r.Endpoints = make(map[ChannelType]map[string]string)
	}
	m, ok := r.Endpoints[channel]
	if !ok {
		m = make(map[string]string)
		r.Endpoints[channel] = m
	}
	return m
}

// Lookup returns the endpoint id for an address, if cached.
func (r *EndpointRecord) Lookup(channel ChannelType, address string) (string, bool) {
	if r == nil || r.Endpoints == nil {
		return "", false
	}
	id, ok := r.Endpoints[channel][address]
	return id, ok
}

// Merge adds the pairs from entries that are not present yet. Existing
// entries are kept, so merging is a union and never drops an address.
// It returns the number of entries added.
func (r *EndpointRecord) Merge(channel ChannelType, entries map[string]string) int {
	if len(entries) == 0 {
		return 0
	}
	m := r.Channel(channel)
	added := 0
	for address, id := range entries {
		if _, ok := m[address]; ok {
			continue
		}
		m[address] = id
		added++
	}
	return added
}

// MergeRecord unions every channel of other into r.
func (r *EndpointRecord) MergeRecord(other *EndpointRecord) {
	if other == nil {
		return
	}
	for channel, entries := range other.Endpoints {
		r.Merge(channel, entries)
	}
}

// Subset returns the cached pairs for the given addresses only.
func (r *EndpointRecord) Subset(channel ChannelType, addresses []string) map[string]string {
	out := make(map[string]string, len(addresses))
	for _, address := range addresses {
		if id, ok := r.Lookup(channel, address); ok {
			out[address] = id
		}
	}
	return out
}

// StoredEndpointRecord is the persisted shape: address keys are encrypted.
type StoredEndpointRecord struct {
	UserID    string                            `db:"user_id" json:"user_id"`
	Endpoints map[ChannelType]map[string]string `db:"-" json:"endpoints"`
	CreatedAt time.Time                         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time                         `db:"updated_at" json:"updated_at"`
}
