package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// credentialSource is what the credential options collect. The zero value
// means the SDK default chain.
type credentialSource struct {
	accessKey    string
	secretKey    string
	sessionToken string

	roleARN     string
	sessionName string
	externalID  string
}

func (c credentialSource) static() bool {
	return c.accessKey != "" && c.secretKey != ""
}

// provider returns nil when the default chain applies. Static keys win over
// an assumed role.
func (c credentialSource) provider(ctx context.Context, region string) (aws.CredentialsProvider, error) {
	switch {
	case c.static():
		return credentials.NewStaticCredentialsProvider(c.accessKey, c.secretKey, c.sessionToken), nil

	case c.roleARN != "":
		base, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load base config for role: %w", err)
		}
		assume := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), c.roleARN,
			func(ro *stscreds.AssumeRoleOptions) {
				ro.RoleSessionName = c.sessionName
				if c.externalID != "" {
					ro.ExternalID = aws.String(c.externalID)
				}
			})
		return aws.NewCredentialsCache(assume), nil
	}
	return nil, nil
}

func loadConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	provider, err := o.creds.provider(ctx, o.region)
	if err != nil {
		return aws.Config{}, err
	}
	if provider != nil {
		optFns = append(optFns, config.WithCredentialsProvider(provider))
	}
	return config.LoadDefaultConfig(ctx, optFns...)
}
