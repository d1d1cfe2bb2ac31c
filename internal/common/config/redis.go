package config

import (
	"time"

	"github.com/go-redis/redis"
)

type RedisConfig struct {
	Addr         string `validate:"required"`
	DB           int    `validate:"gte=0,lte=16"`
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func (rc RedisConfig) AsOptions() *redis.Options {
	return &redis.Options{
		Addr:         rc.Addr,
		DB:           rc.DB,
		Password:     rc.Password,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolSize:     rc.PoolSize,
		// A batch either lands or the strategy fails, the client must not resend it.
		MaxRetries: 0,
	}
}
