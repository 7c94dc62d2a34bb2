// Package secrets loads remote API credentials from AWS Secrets Manager.
// Secret values are never logged.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

const (
	resourceNotFound = "ResourceNotFoundException"
	accessDenied     = "AccessDeniedException"
)

// API is the subset of the Secrets Manager client used here
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AdsCredentials is the JSON document stored in the secret
type AdsCredentials struct {
	DeveloperToken  string `json:"developer_token"`
	ClientID        string `json:"client_id"`
	ClientSecret    string `json:"client_secret"`
	RefreshToken    string `json:"refresh_token"`
	LoginCustomerID string `json:"login_customer_id,omitempty"`
}

// NewAPI builds a Secrets Manager client from the default AWS credential chain
func NewAPI(ctx context.Context, region string) (API, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, "load aws config", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Load reads and decodes the credentials secret
func Load(ctx context.Context, api API, secretID string) (AdsCredentials, error) {
	var creds AdsCredentials
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case resourceNotFound, accessDenied:
				return creds, syncerr.Wrap(syncerr.KindConfiguration, "get secret "+secretID, err)
			}
		}
		return creds, syncerr.Wrap(syncerr.KindTransient, "get secret "+secretID, err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" {
		raw = string(out.SecretBinary)
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		// the decode error may quote the secret, so it is not wrapped
		return creds, syncerr.New(syncerr.KindConfiguration, "decode secret "+secretID, "secret is not a JSON credentials document")
	}
	return creds, nil
}

// Apply fills cfg from the secret named by cfg.CredentialsSecretID. Values in
// the secret take precedence over the environment. Without a secret id it
// does nothing.
func Apply(ctx context.Context, api API, cfg *config.AdsConfig, logger *slog.Logger) error {
	if cfg.CredentialsSecretID == "" {
		return nil
	}
	creds, err := Load(ctx, api, cfg.CredentialsSecretID)
	if err != nil {
		return fmt.Errorf("failed to load ads credentials: %w", err)
	}

	set := func(dst *string, v string) bool {
		if v == "" {
			return false
		}
		*dst = v
		return true
	}
	var applied []string
	for _, f := range []struct {
		name string
		dst  *string
		v    string
	}{
		{"developer_token", &cfg.DeveloperToken, creds.DeveloperToken},
		{"client_id", &cfg.ClientID, creds.ClientID},
		{"client_secret", &cfg.ClientSecret, creds.ClientSecret},
		{"refresh_token", &cfg.RefreshToken, creds.RefreshToken},
		{"login_customer_id", &cfg.LoginCustomerID, creds.LoginCustomerID},
	} {
		if set(f.dst, f.v) {
			applied = append(applied, f.name)
		}
	}

	logger.Info("Ads credentials loaded from Secrets Manager", "secret_id", cfg.CredentialsSecretID, "fields", applied)
	return nil
}
