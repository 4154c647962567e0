package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(values map[string]interface{}) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for key, value := range values {
		v.Set(key, value)
	}
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg, err := fromViper(newTestViper(nil))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, StoreLocal, cfg.Store.Driver)
	assert.True(t, cfg.Roster.ScopeByClass)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
	assert.Equal(t, int64(5*1024*1024), cfg.Photos.MaxUploadBytes)
	assert.Nil(t, cfg.CORS.AllowedOrigins)
}

func TestFromViperPostgresDriverDisablesClassScope(t *testing.T) {
	cfg, err := fromViper(newTestViper(map[string]interface{}{
		"STORE_DRIVER":    "Postgres",
		"ALLOWED_ORIGINS": "http://a.test, ,http://b.test",
		"STORE_TIMEOUT":   "not-a-duration",
	}))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.False(t, cfg.Roster.ScopeByClass)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
}

func TestFromViperScopeOverride(t *testing.T) {
	cfg, err := fromViper(newTestViper(map[string]interface{}{
		"STORE_DRIVER":          "memory",
		"ROSTER_SCOPE_BY_CLASS": true,
	}))
	require.NoError(t, err)
	assert.True(t, cfg.Roster.ScopeByClass)
}

func TestFromViperRejectsUnknownDriver(t *testing.T) {
	_, err := fromViper(newTestViper(map[string]interface{}{"STORE_DRIVER": "firestore"}))
	require.Error(t, err)
}
