package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/inbox/internal/model"
)

// Each record is a hash. Insertion order lives in sorted sets scored by seq:
// one over all ids and one per counterparty.
//
// Every mutation runs as one Lua script so a record and its indexes change
// together.
var (
	upsertScript = redis.NewScript(`
		local exists = redis.call('EXISTS', KEYS[1])
		local seq
		local state = ARGV[8]
		if exists == 1 then
			seq = redis.call('HGET', KEYS[1], 'seq')
			local old_cp = redis.call('HGET', KEYS[1], 'counterparty_id')
			if old_cp and old_cp ~= ARGV[3] then
				redis.call('ZREM', ARGV[1] .. old_cp, ARGV[2])
			end
			if ARGV[9] == 'preserve' then
				state = redis.call('HGET', KEYS[1], 'delivery_state')
			end
		else
			seq = redis.call('INCR', KEYS[2])
		end
		redis.call('HSET', KEYS[1],
			'id', ARGV[2],
			'counterparty_id', ARGV[3],
			'display_name', ARGV[4],
			'sender_id', ARGV[5],
			'body', ARGV[6],
			'occurred_at_ms', ARGV[7],
			'delivery_state', state,
			'seq', seq)
		redis.call('ZADD', KEYS[3], seq, ARGV[2])
		redis.call('ZADD', KEYS[4], seq, ARGV[2])
		return 1 - exists
	`)

	insertScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return -1
		end
		local seq = redis.call('INCR', KEYS[2])
		redis.call('HSET', KEYS[1],
			'id', ARGV[1],
			'counterparty_id', ARGV[2],
			'display_name', ARGV[3],
			'sender_id', ARGV[4],
			'body', ARGV[5],
			'occurred_at_ms', ARGV[6],
			'delivery_state', ARGV[7],
			'seq', seq)
		redis.call('ZADD', KEYS[3], seq, ARGV[1])
		redis.call('ZADD', KEYS[4], seq, ARGV[1])
		return seq
	`)

	updateFieldsScript = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 0
		end
		redis.call('HSET', KEYS[1], 'delivery_state', ARGV[1])
		if tonumber(ARGV[2]) > 0 then
			redis.call('HSET', KEYS[1], 'occurred_at_ms', ARGV[2])
		end
		return 1
	`)
)

// DefaultRedisPrefix namespaces every key the repository writes.
const DefaultRedisPrefix = "inbox:"

type RedisRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) recordKey(id string) string { return r.prefix + "msg:" + id }
func (r *RedisRepository) seqKey() string             { return r.prefix + "seq" }
func (r *RedisRepository) idsKey() string             { return r.prefix + "ids" }
func (r *RedisRepository) counterpartyPrefix() string {
	return r.prefix + "cp:"
}
func (r *RedisRepository) counterpartyKey(id string) string {
	return r.counterpartyPrefix() + id
}

func (r *RedisRepository) Upsert(ctx context.Context, rec model.MessageRecord, mode UpsertMode) (bool, error) {
	keys := []string{r.recordKey(rec.ID), r.seqKey(), r.idsKey(), r.counterpartyKey(rec.CounterpartyID)}
	created, err := upsertScript.Run(ctx, r.client, keys,
		r.counterpartyPrefix(), rec.ID, rec.CounterpartyID, rec.DisplayName,
		rec.SenderID, rec.Body, rec.OccurredAtMs, string(rec.DeliveryState), mode.String(),
	).Int64()
	if err != nil {
		return false, classifyRedis("upsert message", err)
	}
	return created == 1, nil
}

func (r *RedisRepository) UpdateFields(ctx context.Context, id string, patch Patch) (bool, error) {
	matched, err := updateFieldsScript.Run(ctx, r.client, []string{r.recordKey(id)},
		string(patch.State), patch.OccurredAtMs,
	).Int64()
	if err != nil {
		return false, classifyRedis("update message fields", err)
	}
	return matched == 1, nil
}

func (r *RedisRepository) Insert(ctx context.Context, rec model.MessageRecord) (model.MessageRecord, error) {
	keys := []string{r.recordKey(rec.ID), r.seqKey(), r.idsKey(), r.counterpartyKey(rec.CounterpartyID)}
	seq, err := insertScript.Run(ctx, r.client, keys,
		rec.ID, rec.CounterpartyID, rec.DisplayName, rec.SenderID,
		rec.Body, rec.OccurredAtMs, string(rec.DeliveryState),
	).Int64()
	if err != nil {
		return model.MessageRecord{}, classifyRedis("insert message", err)
	}
	if seq < 0 {
		return model.MessageRecord{}, ErrAlreadyExists
	}
	rec.Seq = seq
	return rec, nil
}

func (r *RedisRepository) QueryAll(ctx context.Context) ([]model.MessageRecord, error) {
	return r.queryIndex(ctx, r.idsKey())
}

func (r *RedisRepository) QueryByCounterparty(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error) {
	return r.queryIndex(ctx, r.counterpartyKey(counterpartyID))
}

func (r *RedisRepository) queryIndex(ctx context.Context, index string) ([]model.MessageRecord, error) {
	ids, err := r.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, classifyRedis("query index", err)
	}
	if len(ids) == 0 {
		return []model.MessageRecord{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classifyRedis("load records", err)
	}

	out := make([]model.MessageRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (model.MessageRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return model.MessageRecord{}, classifyRedis("get message", err)
	}
	if len(fields) == 0 {
		return model.MessageRecord{}, ErrNotFound
	}
	return recordFromHash(fields)
}

func (r *RedisRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.idsKey()).Result()
	if err != nil {
		return 0, classifyRedis("count messages", err)
	}
	return int(n), nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping redis", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func recordFromHash(h map[string]string) (model.MessageRecord, error) {
	occurred, err := strconv.ParseInt(h["occurred_at_ms"], 10, 64)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("record %s: bad occurred_at_ms: %w", h["id"], err)
	}
	seq, err := strconv.ParseInt(h["seq"], 10, 64)
	if err != nil {
		return model.MessageRecord{}, fmt.Errorf("record %s: bad seq: %w", h["id"], err)
	}
	return model.MessageRecord{
		ID:             h["id"],
		CounterpartyID: h["counterparty_id"],
		DisplayName:    h["display_name"],
		SenderID:       h["sender_id"],
		Body:           h["body"],
		OccurredAtMs:   occurred,
		DeliveryState:  model.DeliveryState(h["delivery_state"]),
		Seq:            seq,
	}, nil
}

// classifyRedis keeps error replies from the server as plain failures and
// marks transport errors as the store being unavailable.
func classifyRedis(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}
