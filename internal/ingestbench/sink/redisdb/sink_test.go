package redisdb

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/ingestbench/internal/common/config"
	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/common/util"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
	"github.com/G-Research/ingestbench/internal/ingestbench/testfixtures"
)

func withRedis(t *testing.T, action func(server *miniredis.Miniredis, client *redis.Client)) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(config.RedisConfig{Addr: server.Addr()}.AsOptions())
	defer client.Close()
	action(server, client)
}

func TestSink_RowAtATime(t *testing.T) {
	withRedis(t, func(server *miniredis.Miniredis, client *redis.Client) {
		s, err := New(client, "bench", sink.StrategyRowAtATime)
		require.NoError(t, err)
		ctx := context.Background()

		records := testfixtures.Records(25, 5)
		records[3].Latitude.Valid = false
		for _, batch := range util.Batch(records, 10) {
			n, err := s.Apply(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, len(batch), n)
		}

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(25), count)

		first := client.HGetAll("bench:bench1:1").Val()
		assert.Equal(t, records[0].Street, first["street"])
		assert.Equal(t, records[0].PostalCode, first["postal_code"])
		assert.Equal(t, records[0].Latitude.Decimal.String(), first["latitude_wgs84"])
		assert.Equal(t, "", client.HGet("bench:bench1:4", "latitude_wgs84").Val())
		assert.Equal(t, records[24].Street, client.HGet("bench:bench1:25", "street").Val())

		require.NoError(t, s.Prepare(ctx))
		count, err = s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
		assert.False(t, server.Exists("bench:bench1:1"))
	})
}

func TestSink_MultiValue(t *testing.T) {
	withRedis(t, func(server *miniredis.Miniredis, client *redis.Client) {
		s, err := New(client, "bench", sink.StrategyMultiValue)
		require.NoError(t, err)
		ctx := context.Background()

		records := testfixtures.Records(2500, 9)
		for _, batch := range util.Batch(records, 1000) {
			n, err := s.Apply(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, len(batch), n)
		}

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2500), count)

		stored, err := s.Records(ctx)
		require.NoError(t, err)
		require.Len(t, stored, len(records))
		for i := range records {
			assert.True(t, records[i].Equal(stored[i]), "record %d", i)
		}
	})
}

func TestSink_WrongTypeIsRejected(t *testing.T) {
	withRedis(t, func(server *miniredis.Miniredis, client *redis.Client) {
		s, err := New(client, "bench", sink.StrategyMultiValue)
		require.NoError(t, err)
		require.NoError(t, server.Set("bench:bench2:records", "not a list"))

		_, err = s.Apply(context.Background(), testfixtures.Records(3, 1))
		var rejected *ingesterrors.ErrWriteRejected
		assert.True(t, errors.As(err, &rejected), "got %v", err)
	})
}

func TestSink_ServerDownIsUnavailable(t *testing.T) {
	withRedis(t, func(server *miniredis.Miniredis, client *redis.Client) {
		server.Close()
		for _, strategy := range []sink.Strategy{sink.StrategyRowAtATime, sink.StrategyMultiValue} {
			s, err := New(client, "bench", strategy)
			require.NoError(t, err)

			_, err = s.Apply(context.Background(), testfixtures.Records(3, 1))
			var unavailable *ingesterrors.ErrSinkUnavailable
			assert.True(t, errors.As(err, &unavailable), "%s: got %v", strategy, err)
		}
	})
}

func TestNew_UnsupportedStrategy(t *testing.T) {
	_, err := New(nil, "bench", sink.StrategyCopy)
	assert.Error(t, err)
}
