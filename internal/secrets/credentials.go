package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// StoreCredentials are object-store keys kept as a JSON secret:
//
//	{"access_key_id": "...", "secret_access_key": "...", "session_token": "..."}
//
// "secret_key_id" is accepted as an alias of "secret_access_key".
type StoreCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SecretKeyID     string `json:"secret_key_id,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
}

// String hides the keys.
func (c StoreCredentials) String() string {
	return fmt.Sprintf("StoreCredentials{AccessKeyID: %q, SecretAccessKey: [REDACTED]}", c.AccessKeyID)
}

// ParseStoreCredentials decodes a credentials secret.
func ParseStoreCredentials(value string) (StoreCredentials, error) {
	var creds StoreCredentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil {
		return StoreCredentials{}, fmt.Errorf("%w: not a JSON object", ErrMalformedSecret)
	}
	if creds.SecretAccessKey == "" {
		creds.SecretAccessKey = creds.SecretKeyID
	}
	creds.SecretKeyID = ""
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return StoreCredentials{}, fmt.Errorf("%w: access_key_id and secret_access_key are required", ErrMalformedSecret)
	}
	return creds, nil
}

// StoreCredentials reads and decodes the credentials secret secretName.
func (c *Client) StoreCredentials(ctx context.Context, secretName string) (StoreCredentials, error) {
	value, err := c.GetSecret(ctx, secretName)
	if err != nil {
		return StoreCredentials{}, err
	}
	creds, err := ParseStoreCredentials(value)
	if err != nil {
		return StoreCredentials{}, fmt.Errorf("getSecret %s: %w", secretName, err)
	}
	return creds, nil
}

// CredentialsProvider adapts a credentials secret to the AWS SDK. Credentials
// are re-read from Secrets Manager after refresh so that rotated keys are
// picked up without a restart.
type CredentialsProvider struct {
	client     *Client
	secretName string
	refresh    time.Duration
}

var _ aws.CredentialsProvider = (*CredentialsProvider)(nil)

// CredentialsProvider returns a provider for secretName. refresh of zero
// means the credentials never expire.
func (c *Client) CredentialsProvider(secretName string, refresh time.Duration) *CredentialsProvider {
	return &CredentialsProvider{client: c, secretName: secretName, refresh: refresh}
}

// Retrieve implements aws.CredentialsProvider.
func (p *CredentialsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := p.client.StoreCredentials(ctx, p.secretName)
	if err != nil {
		return aws.Credentials{}, err
	}

	out := aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          "SecretsManager:" + p.secretName,
	}
	if p.refresh > 0 {
		out.CanExpire = true
		out.Expires = p.client.clock.Now().Add(p.refresh)
		p.client.Invalidate(p.secretName)
	}
	return out, nil
}
