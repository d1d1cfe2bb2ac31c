package redisdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/common/util"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

// Sink writes batches to redis inside MULTI/EXEC so a batch becomes visible all at once.
//
// row_at_a_time stores every record as its own hash under <prefix>:<destination>:<id>.
// multi_value appends the whole batch, JSON encoded, to the list <prefix>:<destination>:records
// with a single RPUSH.
type Sink struct {
	db       *redis.Client
	strategy sink.Strategy
	space    string
}

func New(db *redis.Client, keyPrefix string, strategy sink.Strategy) (*Sink, error) {
	switch strategy {
	case sink.StrategyRowAtATime, sink.StrategyMultiValue:
	default:
		return nil, errors.Errorf("strategy %s is not supported by the redis sink", strategy)
	}
	return &Sink{
		db:       db,
		strategy: strategy,
		space:    keyPrefix + ":" + strategy.Destination(),
	}, nil
}

func (s *Sink) Name() string {
	return string(s.strategy)
}

func (s *Sink) sequenceKey() string {
	return s.space + ":seq"
}

func (s *Sink) countKey() string {
	return s.space + ":count"
}

func (s *Sink) listKey() string {
	return s.space + ":records"
}

func (s *Sink) recordKey(id int64) string {
	return fmt.Sprintf("%s:%d", s.space, id)
}

func (s *Sink) Apply(ctx context.Context, batch []model.Record) (int, error) {
	db := s.db.WithContext(ctx)
	var err error
	if s.strategy == sink.StrategyRowAtATime {
		err = s.storeHashes(db, batch)
	} else {
		err = s.storeList(db, batch)
	}
	if err != nil {
		return 0, ingesterrors.ClassifySinkError(s.Name(), err)
	}
	return len(batch), nil
}

// storeHashes reserves a block of ids and then writes one HMSET per record in a transaction.
// Ids of a failed batch are not reused.
func (s *Sink) storeHashes(db *redis.Client, batch []model.Record) error {
	last, err := db.IncrBy(s.sequenceKey(), int64(len(batch))).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	first := last - int64(len(batch)) + 1

	pipe := db.TxPipeline()
	for i, r := range batch {
		pipe.HMSet(s.recordKey(first+int64(i)), hashFields(r))
	}
	pipe.IncrBy(s.countKey(), int64(len(batch)))
	_, err = pipe.Exec()
	return errors.WithStack(err)
}

// storeList appends every record with one RPUSH.
func (s *Sink) storeList(db *redis.Client, batch []model.Record) error {
	values := make([]interface{}, len(batch))
	for i, r := range batch {
		encoded, err := json.Marshal(r)
		if err != nil {
			return &ingesterrors.ErrWriteRejected{Sink: s.Name(), Err: errors.WithStack(err)}
		}
		values[i] = encoded
	}

	pipe := db.TxPipeline()
	pipe.RPush(s.listKey(), values...)
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

func hashFields(r model.Record) map[string]interface{} {
	fields := make(map[string]interface{}, len(model.Columns))
	for i, value := range r.Values() {
		if value == nil {
			value = ""
		}
		fields[model.Columns[i]] = value
	}
	return fields
}

func (s *Sink) Count(ctx context.Context) (int64, error) {
	db := s.db.WithContext(ctx)
	var count int64
	var err error
	if s.strategy == sink.StrategyRowAtATime {
		count, err = db.Get(s.countKey()).Int64()
		if err == redis.Nil {
			return 0, nil
		}
	} else {
		count, err = db.LLen(s.listKey()).Result()
	}
	return count, ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
}

// Prepare deletes every key of the destination.
func (s *Sink) Prepare(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	keys, err := db.Keys(s.space + ":*").Result()
	if err != nil {
		return ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
	}
	for _, chunk := range util.Batch(keys, 1000) {
		if err := db.Del(chunk...).Err(); err != nil {
			return ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
		}
	}
	return nil
}

// Records reads back every record written by the multi_value strategy, in insertion order.
func (s *Sink) Records(ctx context.Context) ([]model.Record, error) {
	values, err := s.db.WithContext(ctx).LRange(s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	records := make([]model.Record, len(values))
	for i, v := range values {
		if err := json.Unmarshal([]byte(v), &records[i]); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return records, nil
}
