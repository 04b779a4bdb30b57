package ratelimit

import (
	"context"
	"errors"
	"sync"
)

var ErrBucketTerminated = errors.New("token bucket terminated")

// TokenBucket is a thread-safe token counter. Take blocks until the requested
// amount is available and then deducts it whole.
//
// Waiters sleep on a channel that is closed and replaced on every Add, Set
// and Terminate, so a waiter that read the channel under the lock can never
// miss a wakeup.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int64
	terminated bool
	wake       chan struct{}
	done       chan struct{}
}

func NewTokenBucket() *TokenBucket {
	return &TokenBucket{
		wake: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (b *TokenBucket) Take(ctx context.Context, n int64) error {
	for {
		b.mu.Lock()
		if b.terminated {
			b.mu.Unlock()
			return ErrBucketTerminated
		}
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *TokenBucket) Add(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens > Unlimited-n {
		b.tokens = Unlimited
	} else {
		b.tokens += n
	}
	b.broadcast()
}

// Set replaces the count and wakes all waiters.
func (b *TokenBucket) Set(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = n
	b.broadcast()
}

func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucket) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return
	}
	b.terminated = true
	close(b.done)
	b.broadcast()
}

// Done is closed once the bucket is terminated.
func (b *TokenBucket) Done() <-chan struct{} {
	return b.done
}

func (b *TokenBucket) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}

// must hold b.mu
func (b *TokenBucket) broadcast() {
	close(b.wake)
	b.wake = make(chan struct{})
}
