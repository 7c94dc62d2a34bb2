package secrets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/Guizzs26/go-ads-sync/internal/config"
	"github.com/Guizzs26/go-ads-sync/internal/syncerr"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	secrets map[string]string
	err     error
	calls   int
}

func (f *fakeAPI) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: resourceNotFound, Message: "not found"}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyOverridesFromSecret(t *testing.T) {
	api := &fakeAPI{secrets: map[string]string{
		"ads/prod": `{"developer_token":"dev","client_id":"cid","client_secret":"sec","refresh_token":"ref"}`,
	}}
	cfg := config.AdsConfig{CredentialsSecretID: "ads/prod", ClientID: "env-client", LoginCustomerID: "1234567890"}

	require.NoError(t, Apply(context.Background(), api, &cfg, quietLogger()))
	assert.Equal(t, "dev", cfg.DeveloperToken)
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "sec", cfg.ClientSecret)
	assert.Equal(t, "ref", cfg.RefreshToken)
	assert.Equal(t, "1234567890", cfg.LoginCustomerID, "empty secret field keeps the env value")
}

func TestApplyWithoutSecretIDIsNoop(t *testing.T) {
	api := &fakeAPI{}
	cfg := config.AdsConfig{ClientID: "env-client"}
	require.NoError(t, Apply(context.Background(), api, &cfg, quietLogger()))
	assert.Zero(t, api.calls)
	assert.Equal(t, "env-client", cfg.ClientID)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		_, err := Load(context.Background(), &fakeAPI{}, "ads/none")
		assert.Equal(t, syncerr.KindConfiguration, syncerr.KindOf(err))
	})
	t.Run("not json", func(t *testing.T) {
		api := &fakeAPI{secrets: map[string]string{"ads/raw": "hunter2"}}
		_, err := Load(context.Background(), api, "ads/raw")
		require.Error(t, err)
		assert.Equal(t, syncerr.KindConfiguration, syncerr.KindOf(err))
		assert.NotContains(t, err.Error(), "hunter2")
	})
	t.Run("network", func(t *testing.T) {
		api := &fakeAPI{err: errors.New("dial tcp: i/o timeout")}
		_, err := Load(context.Background(), api, "ads/prod")
		assert.Equal(t, syncerr.KindTransient, syncerr.KindOf(err))
	})
}
