package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeVault answers AppRole logins and KV v2 reads
func fakeVault(t *testing.T, reads *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/auth/approle/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["role_id"] != "reconciler" || body["secret_id"] != "s3cret" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"errors":["invalid role or secret ID"]}`))
				return
			}
			_, _ = w.Write([]byte(`{"auth":{"client_token":"approle-token"}}`))
		case "/v1/secret/data/fee-reconciliation/operator-token":
			reads.Add(1)
			if r.Header.Get("X-Vault-Token") != "approle-token" {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":{"data":{"value":"op-token-from-vault"}}}`))
		case "/v1/secret/data/fee-reconciliation/database":
			_, _ = w.Write([]byte(`{"data":{"data":{"username":"recon","password":"db-pw"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
		}
	}))
}

func TestVaultSource_AppRoleAndKVv2(t *testing.T) {
	var reads atomic.Int32
	srv := fakeVault(t, &reads)
	defer srv.Close()

	cfg := DefaultVaultConfig(srv.URL)
	cfg.AuthMethod = "approle"
	cfg.RoleID = "reconciler"
	cfg.SecretID = "s3cret"
	cfg.CacheTTL = time.Minute

	ctx := context.Background()
	src, err := NewVaultSource(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := src.GetSecret(ctx, "fee-reconciliation/operator-token")
		require.NoError(t, err)
		assert.Equal(t, "op-token-from-vault", v)
	}
	assert.Equal(t, int32(1), reads.Load(), "second read served from cache")

	_, err = src.GetSecret(ctx, "fee-reconciliation/missing")
	assert.Error(t, err)
}

func TestVaultSource_SelectsField(t *testing.T) {
	var reads atomic.Int32
	srv := fakeVault(t, &reads)
	defer srv.Close()

	cfg := DefaultVaultConfig(srv.URL)
	cfg.Token = "approle-token"
	cfg.CacheTTL = 0

	ctx := context.Background()
	src, err := NewVaultSource(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	v, err := src.GetSecret(ctx, "fee-reconciliation/database#password")
	require.NoError(t, err)
	assert.Equal(t, "db-pw", v)

	_, err = src.GetSecret(ctx, "fee-reconciliation/database")
	assert.ErrorContains(t, err, "#field", "two fields and no value field is ambiguous")

	_, err = src.GetSecret(ctx, "fee-reconciliation/database#port")
	assert.Error(t, err)
}

func TestVaultSource_RejectsBadCredentials(t *testing.T) {
	var reads atomic.Int32
	srv := fakeVault(t, &reads)
	defer srv.Close()

	cfg := DefaultVaultConfig(srv.URL)
	cfg.AuthMethod = "approle"
	cfg.RoleID = "reconciler"
	cfg.SecretID = "wrong"

	_, err := NewVaultSource(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.AuthMethod = "token"
	_, err = NewVaultSource(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err, "token auth without a token")
}
