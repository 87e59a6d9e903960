package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func Test_FromEnv_Defaults(t *testing.T) {
	settings, err := fromLookup(lookupFrom(nil))

	require.NoError(t, err)
	assert.Equal(t, Defaults(), settings)
	assert.Equal(t, AdapterPGX, settings.Adapter)
	assert.Equal(t, 2*time.Second, settings.StoreTimeout)
}

func Test_FromEnv_Overrides(t *testing.T) {
	settings, err := fromLookup(lookupFrom(map[string]string{
		EnvAdapter:      AdapterSQLite,
		EnvSQLitePath:   "/tmp/lending.db",
		EnvAddr:         ":9090",
		EnvLoanDays:     "21",
		EnvFinePerDay:   "10",
		EnvStoreTimeout: "750ms",
		EnvTablePrefix:  "lib_",
	}))

	require.NoError(t, err)
	assert.Equal(t, AdapterSQLite, settings.Adapter)
	assert.Equal(t, "/tmp/lending.db", settings.SQLitePath)
	assert.Equal(t, ":9090", settings.Addr)
	assert.Equal(t, 21, settings.LoanDays)
	assert.Equal(t, int64(10), settings.FinePerDay)
	assert.Equal(t, 750*time.Millisecond, settings.StoreTimeout)
	assert.Equal(t, "lib_", settings.TablePrefix)
}

func Test_FromEnv_RejectsInvalidValues(t *testing.T) {
	_, err := fromLookup(lookupFrom(map[string]string{
		EnvAdapter:      "oracle",
		EnvLoanDays:     "0",
		EnvStoreTimeout: "soon",
	}))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAdapter)
	assert.ErrorIs(t, err, ErrInvalidSetting)
	assert.Contains(t, err.Error(), EnvLoanDays)
	assert.Contains(t, err.Error(), EnvStoreTimeout)
}

func Test_PostgresPGXPoolConfig(t *testing.T) {
	dbConfig, err := PostgresPGXPoolConfig(defaultDSN)
	require.NoError(t, err)
	assert.Equal(t, int32(16), dbConfig.MaxConns)
	assert.Equal(t, "lending", dbConfig.ConnConfig.Database)

	_, err = PostgresPGXPoolConfig("://not a dsn")
	assert.Error(t, err)
}
