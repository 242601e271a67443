// Package pool provides per-upstream, bounded HTTP connection pools.
// Each upstream gets its own *http.Transport so a slow or overloaded
// engine cannot starve connections meant for the others; a buffered
// channel acts as the admission semaphore bounding concurrent use of
// that transport.
package pool

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/core/ports"
	"github.com/olla-project/inforoute/internal/util"
)

const (
	DefaultMaxIdleConns        = 100
	DefaultMaxConnsPerHost     = 50
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultSetNoDelay          = true
)

// Config tunes the transports handed out by Pool.
type Config struct {
	MaxConnsPerHost     int
	MaxIdleConns        int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	ClientTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnsPerHost: DefaultMaxConnsPerHost,
		MaxIdleConns:    DefaultMaxIdleConns,
		IdleConnTimeout: DefaultIdleConnTimeout,
		DialTimeout:     DefaultDialTimeout,
		KeepAlive:       DefaultKeepAlive,
		ClientTimeout:   60 * time.Second,
	}
}

type entry struct {
	client *http.Client
	sem    chan struct{}
	waits  atomic.Uint64
}

// Pool implements ports.ConnectionPool with one entry per upstream.
type Pool struct {
	cfg     Config
	entries xsync.Map[string, *entry]
}

func New(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg,
		entries: *xsync.NewMap[string, *entry](),
	}
}

func (p *Pool) getOrCreate(up domain.Upstream) *entry {
	if e, ok := p.entries.Load(up.Key()); ok {
		return e
	}
	newEntry := &entry{
		client: &http.Client{
			Transport: p.newTransport(),
			Timeout:   p.cfg.ClientTimeout,
		},
		sem: make(chan struct{}, p.cfg.MaxConnsPerHost),
	}
	actual, _ := p.entries.LoadOrStore(up.Key(), newEntry)
	return actual
}

func (p *Pool) newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   p.cfg.DialTimeout,
		KeepAlive: p.cfg.KeepAlive,
	}
	return &http.Transport{
		MaxIdleConns:        p.cfg.MaxIdleConns,
		MaxIdleConnsPerHost: p.cfg.MaxConnsPerHost,
		IdleConnTimeout:     p.cfg.IdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(DefaultSetNoDelay)
				_ = tcpConn.SetKeepAlive(true)
				_ = tcpConn.SetKeepAlivePeriod(p.cfg.KeepAlive)
			}
			return conn, nil
		},
	}
}

// lease implements ports.Lease.
type lease struct {
	e *entry
}

func (l *lease) Client() *http.Client { return l.e.client }
func (l *lease) Release()             { <-l.e.sem }

// Acquire blocks until a slot is free on the upstream's semaphore or
// ctx is done, whichever comes first.
func (p *Pool) Acquire(ctx context.Context, up domain.Upstream) (ports.Lease, error) {
	e := p.getOrCreate(up)
	select {
	case e.sem <- struct{}{}:
		return &lease{e: e}, nil
	case <-ctx.Done():
		e.waits.Add(1)
		return nil, domain.ErrPoolExhausted
	}
}

func (p *Pool) Stats(up domain.Upstream) ports.PoolStats {
	e, ok := p.entries.Load(up.Key())
	if !ok {
		return ports.PoolStats{Capacity: p.cfg.MaxConnsPerHost}
	}
	inUse := len(e.sem)
	capacity := cap(e.sem)
	return ports.PoolStats{
		InUse:    inUse,
		Capacity: capacity,
		// SafeInt64Diff keeps this non-negative even if a racing Acquire
		// bumps InUse past Capacity between the two reads above.
		Available: util.SafeInt64Diff(uint64(capacity), uint64(inUse)),
		WaitCount: e.waits.Load(),
	}
}

func (p *Pool) Close() error {
	p.entries.Range(func(key string, e *entry) bool {
		e.client.CloseIdleConnections()
		return true
	})
	return nil
}
