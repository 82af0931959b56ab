// Package resolve caches IPv4 lookups for probe targets so that concurrent
// probes to the same hostname share one DNS query.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a successful lookup is reused.
const DefaultTTL = 5 * time.Minute

// ErrNoAddress is returned when a name has no IPv4 address.
var ErrNoAddress = errors.New("no IPv4 address found")

// Cache resolves hostnames to IPv4 addresses and remembers the answers.
type Cache struct {
	cache *ttlcache.Cache[string, netip.Addr]
	group singleflight.Group

	// lookupFunc is replaceable in tests.
	lookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)
}

// New returns a Cache that keeps answers for ttl.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, netip.Addr](ttl),
			ttlcache.WithDisableTouchOnHit[string, netip.Addr](),
		),
		lookupFunc: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
		},
	}
}

// Resolve returns the first IPv4 address of host. IPv4 literals are returned
// as is. Concurrent calls for the same uncached host wait for a single lookup,
// but each caller stops waiting when its own context ends.
func (c *Cache) Resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !addr.Is4() {
			return netip.Addr{}, fmt.Errorf("%s: %w", host, ErrNoAddress)
		}
		return addr, nil
	}

	if item := c.cache.Get(host); item != nil {
		return item.Value(), nil
	}

	ch := c.group.DoChan(host, func() (any, error) {
		// Detached from any one caller so that a caller giving up does not
		// fail the lookup for the others.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return c.lookup(lctx, host)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, res.Err
		}
		return res.Val.(netip.Addr), nil
	case <-ctx.Done():
		return netip.Addr{}, ctx.Err()
	}
}

// lookupTimeout bounds a single shared lookup.
const lookupTimeout = 10 * time.Second

func (c *Cache) lookup(ctx context.Context, host string) (netip.Addr, error) {
	addrs, err := c.lookupFunc(ctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			c.cache.Set(host, a, ttlcache.DefaultTTL)
			logrus.WithFields(logrus.Fields{"host": host, "addr": a}).Debug("Resolved target")
			return a, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%s: %w", host, ErrNoAddress)
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	return c.cache.Len()
}
