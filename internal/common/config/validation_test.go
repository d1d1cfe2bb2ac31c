package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testConfig struct {
	Name  string `validate:"required"`
	Count int    `validate:"gt=0"`
	Redis RedisConfig
}

func TestValidate(t *testing.T) {
	valid := testConfig{Name: "a", Count: 1, Redis: RedisConfig{Addr: "localhost:6379"}}
	assert.NoError(t, Validate(valid))

	err := Validate(testConfig{Count: 0, Redis: RedisConfig{Addr: "localhost:6379", DB: 20}})
	assert.Error(t, err)
	// must not panic on either kind of error
	LogValidationErrors(err)
	LogValidationErrors(assert.AnError)
	LogValidationErrors(nil)
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "Redis.Addr", stripPrefix("testConfig.Redis.Addr"))
	assert.Equal(t, "Name", stripPrefix("Name"))
}

func TestRedisConfig_AsOptions(t *testing.T) {
	options := RedisConfig{Addr: "redis:6379", DB: 2, Password: "psw", PoolSize: 4}.AsOptions()
	assert.Equal(t, "redis:6379", options.Addr)
	assert.Equal(t, 2, options.DB)
	assert.Equal(t, "psw", options.Password)
	assert.Equal(t, 4, options.PoolSize)
	assert.Equal(t, 0, options.MaxRetries)
}
