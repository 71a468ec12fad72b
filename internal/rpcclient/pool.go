package rpcclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// DialFunc opens a backend for an RPC URL. The default dials over HTTP with
// a shared keep-alive transport; tests substitute in-memory fakes.
type DialFunc func(ctx context.Context, url string) (Backend, error)

// Pool caches one Client per RPC endpoint so that polling many chains reuses
// transport connections instead of re-dialing every cycle.
type Pool struct {
	mu       sync.Mutex
	clients  map[string]*Client
	dial     DialFunc
	timeout  time.Duration
	observer Observer
}

// NewPool creates a connection pool. All clients share one HTTP transport so
// keep-alive connections are reused across polls.
func NewPool(timeout time.Duration, observer Observer) *Pool {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Pool{
		clients:  make(map[string]*Client),
		timeout:  timeout,
		observer: observer,
		dial: func(ctx context.Context, url string) (Backend, error) {
			rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
			if err != nil {
				return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
			}
			return ethclient.NewClient(rpcClient), nil
		},
	}
}

// NewPoolWithDialer creates a pool with a custom dial function.
func NewPoolWithDialer(timeout time.Duration, observer Observer, dial DialFunc) *Pool {
	return &Pool{
		clients:  make(map[string]*Client),
		timeout:  timeout,
		observer: observer,
		dial:     dial,
	}
}

// Get returns the cached client for the URL, dialing one if absent.
// Get-or-create is idempotent; the lock is never held across RPC calls.
func (p *Pool) Get(ctx context.Context, chain, url string) (*Client, error) {
	p.mu.Lock()
	if client, ok := p.clients[url]; ok {
		p.mu.Unlock()
		return client, nil
	}
	p.mu.Unlock()

	backend, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have dialed the same URL meanwhile.
	if client, ok := p.clients[url]; ok {
		backend.Close()
		return client, nil
	}

	client := NewClient(backend, chain, p.timeout, p.observer)
	p.clients[url] = client
	return client, nil
}

// Drop evicts and closes the client for a URL. Used when a chain's endpoint
// is removed or replaced on reload.
func (p *Pool) Drop(url string) {
	p.mu.Lock()
	client, ok := p.clients[url]
	if ok {
		delete(p.clients, url)
	}
	p.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Close releases every cached client.
func (p *Pool) Close() {
	p.mu.Lock()
	clients := make([]*Client, 0, len(p.clients))
	for _, client := range p.clients {
		clients = append(clients, client)
	}
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// Size returns the number of cached endpoints.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
