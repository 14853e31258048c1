package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// DefaultConsulPrefix — префикс ключей в Consul KV.
const DefaultConsulPrefix = "netomata/cache/"

// Consul — Cache поверх Consul KV.
//
// Consul KV не поддерживает TTL для ключей, поэтому срок жизни хранится
// во Flags пары (unix nanoseconds, 0 — бессрочно) и проверяется при чтении.
// SetNX реализован через CAS: ModifyIndex 0 для отсутствующего ключа,
// текущий ModifyIndex — для истёкшего.
type Consul struct {
	kv     *consulapi.KV
	prefix string
	now    func() time.Time
}

// NewConsul создаёт кэш поверх Consul по адресу addr ("" — адрес по умолчанию).
func NewConsul(addr, prefix string) (*Consul, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if prefix == "" {
		prefix = DefaultConsulPrefix
	}
	return &Consul{kv: cli.KV(), prefix: prefix, now: time.Now}, nil
}

// Get возвращает значение, если ключ есть и не истёк.
func (c *Consul) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pair, _, err := c.kv.Get(c.prefix+key, c.query(ctx))
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if pair == nil {
		return nil, false, nil
	}
	if c.expired(pair) {
		// Удаляем только ту версию, которую прочитали.
		_, _, _ = c.kv.DeleteCAS(pair, c.write(ctx))
		return nil, false, nil
	}
	return pair.Value, true, nil
}

// Set записывает значение безусловно.
func (c *Consul) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pair := &consulapi.KVPair{Key: c.prefix + key, Value: value, Flags: c.deadline(ttl)}
	if _, err := c.kv.Put(pair, c.write(ctx)); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// SetNX записывает значение, только если ключа нет (или он истёк).
func (c *Consul) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	existing, _, err := c.kv.Get(c.prefix+key, c.query(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}

	var index uint64
	if existing != nil {
		if !c.expired(existing) {
			return false, nil
		}
		index = existing.ModifyIndex
	}

	pair := &consulapi.KVPair{
		Key:         c.prefix + key,
		Value:       value,
		Flags:       c.deadline(ttl),
		ModifyIndex: index,
	}
	ok, _, err := c.kv.CAS(pair, c.write(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: cas %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// Delete удаляет ключи.
func (c *Consul) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := c.kv.Delete(c.prefix+k, c.write(ctx)); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, k, err)
		}
	}
	return nil
}

// DeleteIf удаляет ключ через DeleteCAS, если прочитанное значение равно value.
// Запись, изменённая между чтением и удалением, не удаляется.
func (c *Consul) DeleteIf(ctx context.Context, key string, value []byte) (bool, error) {
	pair, _, err := c.kv.Get(c.prefix+key, c.query(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if pair == nil || c.expired(pair) || !bytes.Equal(pair.Value, value) {
		return false, nil
	}
	ok, _, err := c.kv.DeleteCAS(pair, c.write(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: delete cas %s: %v", ErrUnavailable, key, err)
	}
	return ok, nil
}

// Scan возвращает живые ключи с префиксом (без префикса хранилища).
func (c *Consul) Scan(ctx context.Context, prefix string) ([]string, error) {
	pairs, _, err := c.kv.List(c.prefix+prefix, c.query(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrUnavailable, prefix, err)
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if c.expired(p) {
			continue
		}
		keys = append(keys, strings.TrimPrefix(p.Key, c.prefix))
	}
	return keys, nil
}

func (c *Consul) expired(p *consulapi.KVPair) bool {
	return p.Flags != 0 && uint64(c.now().UnixNano()) >= p.Flags
}

func (c *Consul) deadline(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	return uint64(c.now().Add(ttl).UnixNano())
}

func (c *Consul) query(ctx context.Context) *consulapi.QueryOptions {
	return (&consulapi.QueryOptions{}).WithContext(ctx)
}

func (c *Consul) write(ctx context.Context) *consulapi.WriteOptions {
	return (&consulapi.WriteOptions{}).WithContext(ctx)
}
