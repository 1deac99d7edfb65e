package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/jwalitptl/notification-dispatcher/pkg/errors"
	"github.com/jwalitptl/notification-dispatcher/pkg/logger"
)

const defaultSessionName = "notification-dispatcher"

type Options struct {
	Region              string
	CrossAccountEnabled bool
	RoleARN             string
	SessionName         string
	TTLSeconds          int
	// LambdaExecution reads credentials from the function runtime environment
	LambdaExecution bool
}

// LambdaEnv holds the credentials the Lambda runtime exports for the function role.
type LambdaEnv struct {
	AccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID" required:"true"`
	SecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY" required:"true"`
	SessionToken    string `envconfig:"AWS_SESSION_TOKEN"`
	Region          string `envconfig:"AWS_REGION"`
}

// newSTSClient is swapped in tests
var newSTSClient = func(cfg aws.Config) stscreds.AssumeRoleAPIClient {
	return sts.NewFromConfig(cfg)
}

// Session owns the credentials used to build provider clients.
type Session struct {
	cfg    aws.Config
	cache  *aws.CredentialsCache
	mu     sync.Mutex
	closed bool
	logger *logger.Logger
}

// Acquire resolves credentials once. Any failure here is fatal for the process.
func Acquire(ctx context.Context, opts Options, log *logger.Logger) (*Session, error) {
	base, err := baseConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: base, logger: log}
	if !opts.CrossAccountEnabled {
		log.Info("Using base credentials", "region", base.Region, "lambda", opts.LambdaExecution)
		return s, nil
	}

	if opts.RoleARN == "" {
		return nil, apperrors.Credential("cross account role arn is required", nil)
	}
	sessionName := opts.SessionName
	if sessionName == "" {
		sessionName = defaultSessionName
	}

	provider := stscreds.NewAssumeRoleProvider(newSTSClient(base), opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
		if opts.TTLSeconds > 0 {
			o.Duration = time.Duration(opts.TTLSeconds) * time.Second
		}
	})
	cache := aws.NewCredentialsCache(provider)
	if _, err := cache.Retrieve(ctx); err != nil {
		return nil, apperrors.Credential(fmt.Sprintf("assume role %s", opts.RoleARN), err)
	}

	s.cfg = base.Copy()
	s.cfg.Credentials = cache
	s.cache = cache

	log.Info("Assumed cross account role",
		"role_arn", opts.RoleARN,
		"session_name", sessionName,
		"ttl_seconds", opts.TTLSeconds)
	return s, nil
}

func baseConfig(ctx context.Context, opts Options) (aws.Config, error) {
	if !opts.LambdaExecution {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
		if err != nil {
			return aws.Config{}, apperrors.Credential("load default aws config", err)
		}
		return cfg, nil
	}

	var env LambdaEnv
	if err := envconfig.Process("", &env); err != nil {
		return aws.Config{}, apperrors.Credential("read lambda runtime credentials", err)
	}
	region := opts.Region
	if region == "" {
		region = env.Region
	}
	return aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(env.AccessKeyID, env.SecretAccessKey, env.SessionToken),
	}, nil
}

// Config returns the aws.Config provider clients are built from.
func (s *Session) Config() aws.Config {
	return s.cfg
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close drops any assumed role credentials. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	s.closed = true
	s.logger.Debug("Credential session closed")
	return nil
}
