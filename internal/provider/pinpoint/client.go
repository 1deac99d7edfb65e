package pinpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
	"github.com/jwalitptl/notification-dispatcher/pkg/metrics"
)

const (
	charsetUTF8 = "UTF-8"

	attrOwnerUserID = "owner_user_id"
)

// API is the part of the Pinpoint SDK client this adapter calls.
// *pinpoint.Client satisfies it.
type API interface {
	UpdateEndpoint(ctx context.Context, params *pinpoint.UpdateEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.UpdateEndpointOutput, error)
	GetEndpoint(ctx context.Context, params *pinpoint.GetEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.GetEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, params *pinpoint.DeleteEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.DeleteEndpointOutput, error)
	SendMessages(ctx context.Context, params *pinpoint.SendMessagesInput, optFns ...func(*pinpoint.Options)) (*pinpoint.SendMessagesOutput, error)
	PhoneNumberValidate(ctx context.Context, params *pinpoint.PhoneNumberValidateInput, optFns ...func(*pinpoint.Options)) (*pinpoint.PhoneNumberValidateOutput, error)
}

type Config struct {
	ApplicationID     string
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

type Client struct {
	api     API
	appID   string
	limiter *rate.Limiter
	// one breaker per channel so a failing channel does not block the others
	breakers map[model.ChannelType]*circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
	logger  *logger.Logger
}

// NewFromConfig builds the adapter on top of an SDK client for awsCfg.
func NewFromConfig(awsCfg aws.Config, cfg Config, m *metrics.Metrics, log *logger.Logger) *Client {
	return New(pinpoint.NewFromConfig(awsCfg), cfg, m, log)
}

func New(api API, cfg Config, m *metrics.Metrics, log *logger.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breakers := make(map[model.ChannelType]*circuitbreaker.CircuitBreaker, 4)
	for _, channel := range []model.ChannelType{model.ChannelSMS, model.ChannelEmail, model.ChannelGCM, model.ChannelAPNS} {
		breakers[channel] = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:         "pinpoint-send-" + strings.ToLower(string(channel)),
			MaxFailures:  cfg.BreakerFailures,
			MaxRequests:  1,
			Timeout:      timeout,
			IsSuccessful: isRequestError,
		})
	}

	return &Client{
		api:      api,
		appID:    cfg.ApplicationID,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: breakers,
		metrics:  m,
		logger:   log,
	}
}

// requestErrorCodes are provider replies caused by the request itself.
// Throttling is not one of them.
var requestErrorCodes = map[string]struct{}{
	"BadRequestException":       {},
	"NotFoundException":         {},
	"ForbiddenException":        {},
	"MethodNotAllowedException": {},
	"PayloadTooLargeException":  {},
}

// isRequestError reports errors that must not count against the provider's health.
func isRequestError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := requestErrorCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
}

func (c *Client) observe(operation string, start time.Time) {
	c.metrics.ProviderLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (c *Client) CreateEndpoint(ctx context.Context, spec model.EndpointSpec) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	defer c.observe("update_endpoint", time.Now())

	_, err := c.api.UpdateEndpoint(ctx, &pinpoint.UpdateEndpointInput{
		ApplicationId: aws.String(c.appID),
		EndpointId:    aws.String(spec.EndpointID),
		EndpointRequest: &types.EndpointRequest{
			Address:     aws.String(spec.Address),
			ChannelType: types.ChannelType(spec.Channel),
			OptOut:      aws.String("NONE"),
			RequestId:   aws.String(spec.EndpointID),
			Attributes: map[string][]string{
				attrOwnerUserID: {spec.UserID},
			},
			User: &types.EndpointUser{
				UserId: aws.String(spec.UserID),
			},
		},
	})
	if err != nil {
		return apperrors.Provider("update endpoint", err)
	}
	return nil
}

func (c *Client) GetEndpoint(ctx context.Context, endpointID string) (*model.ProviderEndpoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	defer c.observe("get_endpoint", time.Now())

	out, err := c.api.GetEndpoint(ctx, &pinpoint.GetEndpointInput{
		ApplicationId: aws.String(c.appID),
		EndpointId:    aws.String(endpointID),
	})
	if err != nil {
		return nil, apperrors.Provider("get endpoint", err)
	}
	if out == nil || out.EndpointResponse == nil {
		return nil, apperrors.NewNotFound("endpoint "+endpointID, nil)
	}

	resp := out.EndpointResponse
	endpoint := &model.ProviderEndpoint{
		EndpointID: aws.ToString(resp.Id),
		Address:    aws.ToString(resp.Address),
		Channel:    model.ChannelType(resp.ChannelType),
	}
	if endpoint.EndpointID == "" {
		endpoint.EndpointID = endpointID
	}
	if resp.User != nil {
		endpoint.UserID = aws.ToString(resp.User.UserId)
	}
	return endpoint, nil
}

func (c *Client) DeleteEndpoint(ctx context.Context, endpointID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	defer c.observe("delete_endpoint", time.Now())

	_, err := c.api.DeleteEndpoint(ctx, &pinpoint.DeleteEndpointInput{
		ApplicationId: aws.String(c.appID),
		EndpointId:    aws.String(endpointID),
	})
	if err != nil {
		return apperrors.Provider("delete endpoint", err)
	}
	return nil
}

func (c *Client) ValidatePhone(ctx context.Context, phone string) (*model.PhoneValidation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	defer c.observe("phone_number_validate", time.Now())

	out, err := c.api.PhoneNumberValidate(ctx, &pinpoint.PhoneNumberValidateInput{
		NumberValidateRequest: &types.NumberValidateRequest{
			PhoneNumber: aws.String(phone),
		},
	})
	if err != nil {
		return nil, apperrors.Provider("phone number validate", err)
	}
	if out == nil || out.NumberValidateResponse == nil {
		return nil, apperrors.Provider("phone number validate", fmt.Errorf("empty response"))
	}

	resp := out.NumberValidateResponse
	return &model.PhoneValidation{
		PhoneNumber: phone,
		PhoneType:   strings.ToUpper(aws.ToString(resp.PhoneType)),
		E164:        aws.ToString(resp.CleansedPhoneNumberE164),
		CountryCode: aws.ToString(resp.CountryCodeIso2),
	}, nil
}

// SendMessages issues exactly one SendMessages call for the whole request.
func (c *Client) SendMessages(ctx context.Context, req *model.DispatchRequest) (*model.BatchResult, error) {
	if len(req.Endpoints) == 0 {
		return nil, apperrors.NewBadRequest("batch has no endpoints", nil)
	}
	msgConfig, err := messageConfiguration(req)
	if err != nil {
		return nil, err
	}

	endpoints := make(map[string]types.EndpointSendConfiguration, len(req.Endpoints))
	for _, ref := range req.Endpoints {
		endpoints[ref.EndpointID] = types.EndpointSendConfiguration{}
	}

	input := &pinpoint.SendMessagesInput{
		ApplicationId: aws.String(c.appID),
		MessageRequest: &types.MessageRequest{
			Endpoints:            endpoints,
			MessageConfiguration: msgConfig,
		},
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	defer c.observe("send_messages", time.Now())

	var out *pinpoint.SendMessagesOutput
	err = c.breakers[req.Channel].Execute(func() error {
		var callErr error
		out, callErr = c.api.SendMessages(ctx, input)
		return callErr
	})
	if err != nil {
		return nil, apperrors.Provider("send messages", err)
	}

	result := &model.BatchResult{Results: make(map[string]model.EndpointResult)}
	if out == nil || out.MessageResponse == nil {
		return result, nil
	}
	result.RequestID = aws.ToString(out.MessageResponse.RequestId)
	for endpointID, r := range out.MessageResponse.EndpointResult {
		result.Results[endpointID] = model.EndpointResult{
			Address:        aws.ToString(r.Address),
			DeliveryStatus: string(r.DeliveryStatus),
			StatusCode:     int(aws.ToInt32(r.StatusCode)),
			MessageID:      aws.ToString(r.MessageId),
			StatusMessage:  aws.ToString(r.StatusMessage),
			UpdatedToken:   aws.ToString(r.UpdatedToken),
		}
	}

	c.logger.Debug("Batch sent",
		"channel", string(req.Channel),
		"endpoints", len(req.Endpoints),
		"results", len(result.Results),
		"request_id", result.RequestID)
	return result, nil
}

func messageConfiguration(req *model.DispatchRequest) (*types.DirectMessageConfiguration, error) {
	msg := req.Message
	switch req.Channel {
	case model.ChannelSMS:
		sms := &types.SMSMessage{
			Body:        aws.String(msg.Body),
			MessageType: types.MessageTypeTransactional,
		}
		// a leading + means a long code or short code, anything else is an alphanumeric sender id
		if strings.HasPrefix(req.SenderID, "+") {
			sms.OriginationNumber = aws.String(req.SenderID)
		} else if req.SenderID != "" {
			sms.SenderId = aws.String(req.SenderID)
		}
		return &types.DirectMessageConfiguration{SMSMessage: sms}, nil
	case model.ChannelEmail:
		email := &types.SimpleEmail{
			Subject:  &types.SimpleEmailPart{Charset: aws.String(charsetUTF8), Data: aws.String(msg.Subject)},
			TextPart: &types.SimpleEmailPart{Charset: aws.String(charsetUTF8), Data: aws.String(msg.Body)},
		}
		if msg.HTMLBody != "" {
			email.HtmlPart = &types.SimpleEmailPart{Charset: aws.String(charsetUTF8), Data: aws.String(msg.HTMLBody)}
		}
		em := &types.EmailMessage{SimpleEmail: email}
		if req.SenderID != "" {
			em.FromAddress = aws.String(req.SenderID)
		}
		return &types.DirectMessageConfiguration{EmailMessage: em}, nil
	case model.ChannelGCM:
		return &types.DirectMessageConfiguration{GCMMessage: &types.GCMMessage{
			Action: types.ActionOpenApp,
			Title:  aws.String(msg.Title),
			Body:   aws.String(msg.Body),
			Data:   msg.Data,
		}}, nil
	case model.ChannelAPNS:
		return &types.DirectMessageConfiguration{APNSMessage: &types.APNSMessage{
			Action: types.ActionOpenApp,
			Title:  aws.String(msg.Title),
			Body:   aws.String(msg.Body),
			Data:   msg.Data,
		}}, nil
	}
	return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported channel %q", req.Channel), nil)
}
