package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStoreCredentials(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    StoreCredentials
		wantErr bool
	}{
		{
			name:  "all fields",
			value: `{"access_key_id":"AKID","secret_access_key":"SECRET","session_token":"TOKEN"}`,
			want:  StoreCredentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET", SessionToken: "TOKEN"},
		},
		{
			name:  "secret_key_id alias",
			value: `{"access_key_id":"AKID","secret_key_id":"SECRET"}`,
			want:  StoreCredentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"},
		},
		{
			name:    "missing secret key",
			value:   `{"access_key_id":"AKID"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			value:   "AKID:SECRET",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStoreCredentials(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedSecret)
				assert.NotContains(t, err.Error(), "SECRET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreCredentials_String(t *testing.T) {
	creds := StoreCredentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}

	assert.NotContains(t, creds.String(), "SECRET")
	assert.Contains(t, creds.String(), "AKID")
}

func TestCredentialsProvider(t *testing.T) {
	ctx := context.Background()
	api := secretString(`{"access_key_id":"AKID","secret_access_key":"SECRET"}`)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	client := NewClientWithAPI(api, WithCacheTTL(time.Hour), WithClock(clock))

	t.Run("static", func(t *testing.T) {
		creds, err := client.CredentialsProvider("audiostream/s3", 0).Retrieve(ctx)

		require.NoError(t, err)
		assert.Equal(t, "AKID", creds.AccessKeyID)
		assert.Equal(t, "SECRET", creds.SecretAccessKey)
		assert.Equal(t, "SecretsManager:audiostream/s3", creds.Source)
		assert.False(t, creds.CanExpire)
	})

	t.Run("refreshing", func(t *testing.T) {
		client.Invalidate("audiostream/s3")
		before := api.calls.Load()
		p := client.CredentialsProvider("audiostream/s3", 10*time.Minute)

		creds, err := p.Retrieve(ctx)
		require.NoError(t, err)
		assert.True(t, creds.CanExpire)
		assert.Equal(t, clock.Now().Add(10*time.Minute), creds.Expires)

		_, err = p.Retrieve(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+2, api.calls.Load(), "each refresh reads the secret again")
	})

	t.Run("expiry follows clock", func(t *testing.T) {
		tests := []struct {
			name    string
			advance time.Duration
			refresh time.Duration
		}{
			{name: "immediately", refresh: time.Minute},
			{name: "after an hour", advance: time.Hour, refresh: 15 * time.Minute},
			{name: "after a day", advance: 24 * time.Hour, refresh: time.Hour},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock.Advance(tt.advance)
				want := clock.Now().Add(tt.refresh)

				creds, err := client.CredentialsProvider("audiostream/s3", tt.refresh).Retrieve(ctx)

				require.NoError(t, err)
				assert.Equal(t, want, creds.Expires)
				assert.True(t, creds.CanExpire)
			})
		}
	})

	t.Run("malformed", func(t *testing.T) {
		bad := NewClientWithAPI(secretString(`{}`))

		_, err := bad.CredentialsProvider("s", 0).Retrieve(ctx)

		assert.ErrorIs(t, err, ErrMalformedSecret)
	})
}
