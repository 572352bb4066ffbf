// Package paramstore reads bot tokens from AWS Systems Manager Parameter
// Store so they need not appear in botyard.yaml.
package paramstore

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"github.com/zulandar/botyard/internal/config"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter returns the decrypted value of a named parameter.
type Getter interface {
	Get(ctx context.Context, name string) (string, error)
}

// Client reads SecureString parameters.
type Client struct {
	api ssmAPI
}

// New wraps api.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// NewForRegion loads the default AWS credential chain. An empty region uses
// the chain's region.
func NewForRegion(ctx context.Context, region string) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "paramstore: load aws config")
	}
	return New(ssm.NewFromConfig(cfg))
}

func (c *Client) Get(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", errors.Wrapf(err, "paramstore: get %q", name)
	}
	if out == nil || out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", errors.Errorf("paramstore: %q has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// PrimaryToken returns the operator bot token: the literal token when set,
// otherwise the value of the configured parameter read through g.
func PrimaryToken(ctx context.Context, cfg config.PrimaryConfig, g Getter) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.TokenParam == "" {
		return "", errors.New("paramstore: no primary token configured")
	}
	if g == nil {
		return "", errors.New("paramstore: token_param set but no parameter store available")
	}
	return g.Get(ctx, cfg.TokenParam)
}
