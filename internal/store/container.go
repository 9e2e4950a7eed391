package store

import (
	"container/list"
	"time"
)

// Policy bounds one container. Zero values mean unbounded and never expiring.
type Policy struct {
	MaxSize int
	TTL     time.Duration
}

// container is a keyed map with write-ordered eviction. The list front holds
// the most recently written key, so with a fixed TTL the back is always the
// next entry to expire.
type container[K comparable, V any] struct {
	policy  Policy
	records map[K]*list.Element
	order   *list.List
}

type record[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func newContainer[K comparable, V any](policy Policy) *container[K, V] {
	return &container[K, V]{
		policy:  policy,
		records: make(map[K]*list.Element),
		order:   list.New(),
	}
}

// get never mutates, so it is safe under a shared lock. Expired records read
// as absent until the next write purges them.
func (c *container[K, V]) get(key K, now time.Time) (V, bool) {
	element, exists := c.records[key]
	if !exists {
		var zero V
		return zero, false
	}
	rec := recordOf[K, V](element)
	if c.isExpired(rec, now) {
		var zero V
		return zero, false
	}

	return rec.value, true
}

func (c *container[K, V]) set(key K, value V, now time.Time) {
	c.purgeExpiredLocked(now)

	if element, exists := c.records[key]; exists {
		rec := recordOf[K, V](element)
		rec.value = value
		rec.expiresAt = c.expiryFrom(now)
		c.order.MoveToFront(element)
		return
	}

	c.records[key] = c.order.PushFront(&record[K, V]{
		key:       key,
		value:     value,
		expiresAt: c.expiryFrom(now),
	})
	c.trimToCapacityLocked()
}

func (c *container[K, V]) remove(key K, now time.Time) (V, bool) {
	c.purgeExpiredLocked(now)

	element, exists := c.records[key]
	if !exists {
		var zero V
		return zero, false
	}
	rec := recordOf[K, V](element)
	c.deleteLocked(key)

	return rec.value, true
}

// scan visits live records from most to least recently written until visit
// returns false.
func (c *container[K, V]) scan(now time.Time, visit func(K, V) bool) {
	for element := c.order.Front(); element != nil; element = element.Next() {
		rec := recordOf[K, V](element)
		if c.isExpired(rec, now) {
			continue
		}
		if !visit(rec.key, rec.value) {
			return
		}
	}
}

func (c *container[K, V]) count(now time.Time) int {
	total := 0
	c.scan(now, func(K, V) bool {
		total++
		return true
	})

	return total
}

func (c *container[K, V]) purgeExpiredLocked(now time.Time) {
	if c.policy.TTL <= 0 {
		return
	}
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		rec := recordOf[K, V](back)
		if !c.isExpired(rec, now) {
			return
		}
		c.deleteLocked(rec.key)
	}
}

func (c *container[K, V]) trimToCapacityLocked() {
	if c.policy.MaxSize <= 0 {
		return
	}
	for len(c.records) > c.policy.MaxSize {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.deleteLocked(recordOf[K, V](back).key)
	}
}

func (c *container[K, V]) deleteLocked(key K) {
	if element, exists := c.records[key]; exists {
		c.order.Remove(element)
		delete(c.records, key)
	}
}

func (c *container[K, V]) isExpired(rec *record[K, V], now time.Time) bool {
	if rec.expiresAt.IsZero() {
		return false
	}

	return !now.Before(rec.expiresAt)
}

func (c *container[K, V]) expiryFrom(now time.Time) time.Time {
	if c.policy.TTL <= 0 {
		return time.Time{}
	}

	return now.Add(c.policy.TTL)
}

func recordOf[K comparable, V any](element *list.Element) *record[K, V] {
	return element.Value.(*record[K, V])
}
