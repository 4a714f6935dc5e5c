package cache

import (
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"tg-points-bot/internal/domain"
)

type localItem struct {
	data      []byte
	expiresAt time.Time
}

// Local — кэш в памяти процесса на LRU с TTL. Используется, когда Redis не настроен.
type Local struct {
	mu    sync.Mutex
	items *lru.Cache[string, localItem]
	now   func() time.Time
}

var _ domain.Cache = (*Local)(nil)

// NewLocal создаёт кэш на size ключей.
func NewLocal(size int) (*Local, error) {
	if size <= 0 {
		size = 1024
	}
	items, err := lru.New[string, localItem](size)
	if err != nil {
		return nil, err
	}
	return &Local{items: items, now: time.Now}, nil
}

// get возвращает живой элемент; вызывать под c.mu.
func (c *Local) get(key string) (localItem, bool) {
	item, ok := c.items.Get(key)
	if !ok {
		return localItem{}, false
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.items.Remove(key)
		return localItem{}, false
	}
	return item, true
}

func (c *Local) put(key string, data []byte, ttl time.Duration) {
	item := localItem{data: data}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.items.Add(key, item)
}

// Once выполняет fn, если ключ ещё не задан. При ошибке fn ключ снимается.
func (c *Local) Once(key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, ok := c.get(key); ok {
		c.mu.Unlock()
		return nil
	}
	c.put(key, []byte("1"), ttl)
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.items.Remove(key)
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *Local) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, append([]byte(nil), value...), ttl)
	return nil
}

// Get возвращает значение или domain.ErrNotFound.
func (c *Local) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.get(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), item.data...), nil
}

// Incr увеличивает счётчик и продлевает TTL.
func (c *Local) Incr(key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if item, ok := c.get(key); ok {
		v, err := strconv.ParseInt(string(item.data), 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	n++
	c.put(key, []byte(strconv.FormatInt(n, 10)), ttl)
	return n, nil
}
