package model

// EndpointRef is one provider endpoint addressed by a batch send.
type EndpointRef struct {
	EndpointID string
	Address    string
}

// DispatchRequest is the single batch send built for one notification on one
// channel. It only lives for the duration of the provider call.
type DispatchRequest struct {
	Channel   ChannelType
	Message   RenderedMessage
	SenderID  string
	Endpoints []EndpointRef
	// Requested is the number of distinct addresses the caller asked for
	Requested int
	// Excluded lists the addresses that had no resolved endpoint
	Excluded []string
}

func (r *DispatchRequest) EndpointIDs() []string {
	ids := make([]string, 0, len(r.Endpoints))
	for _, ref := range r.Endpoints {
		ids = append(ids, ref.EndpointID)
	}
	return ids
}

// EndpointResult is the provider's outcome for one endpoint of a batch.
type EndpointResult struct {
	Address        string
	DeliveryStatus string
	StatusCode     int
	MessageID      string
	StatusMessage  string
	UpdatedToken   string
}

// BatchResult is the provider's reply to a batch send, keyed by endpoint id.
type BatchResult struct {
	RequestID string
	Results   map[string]EndpointResult
}

// Provider delivery status values
const (
	DeliverySuccessful       = "SUCCESSFUL"
	DeliveryThrottled        = "THROTTLED"
	DeliveryTemporaryFailure = "TEMPORARY_FAILURE"
	DeliveryPermanentFailure = "PERMANENT_FAILURE"
	DeliveryUnknownFailure   = "UNKNOWN_FAILURE"
	DeliveryOptOut           = "OPT_OUT"
	DeliveryDuplicate        = "DUPLICATE"
)

// EndpointSpec describes an endpoint to create at the provider.
type EndpointSpec struct {
	EndpointID string
	Address    string
	Channel    ChannelType
	UserID     string
}

// ProviderEndpoint is the provider's view of an endpoint.
type ProviderEndpoint struct {
	EndpointID string
	Address    string
	Channel    ChannelType
	UserID     string
}

// PhoneValidation is the provider's classification of a phone number.
type PhoneValidation struct {
	PhoneNumber string
	PhoneType   string
	E164        string
	CountryCode string
}

// Provider phone types
const (
	PhoneTypeMobile   = "MOBILE"
	PhoneTypeLandline = "LANDLINE"
	PhoneTypeVoip     = "VOIP"
	PhoneTypeInvalid  = "INVALID"
	PhoneTypePrepaid  = "PREPAID"
	PhoneTypeOther    = "OTHER"
)
