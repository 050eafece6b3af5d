package redis

import "github.com/redis/rueidis"

// NewStoreForTest wraps an existing client (typically rueidis/mock) with
// default scan and batch sizes.
func NewStoreForTest(c rueidis.Client) *Store {
	return newStore(c, 0, 0)
}
