package session

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeSessionsKey = "active_sessions"

// Presence publishes an expiring record of the active session to Redis for
// external monitoring. It is never read back. A nil *Presence is a no-op.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresence connects to Redis. It returns nil when addr is empty or the
// server is unreachable.
func NewPresence(addr, password string, ttl time.Duration) *Presence {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unavailable at %s, presence disabled: %v", addr, err)
		_ = client.Close()
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	log.Printf("✅ Redis presence enabled (%s)", addr)
	return &Presence{client: client, ttl: ttl}
}

// presenceTracker is the part of Presence the Manager relies on.
type presenceTracker interface {
	Store(ctx context.Context, s *Session)
	Touch(ctx context.Context, s *Session)
	Remove(ctx context.Context, id string)
	Close() error
}

func sessionKey(id string) string { return "session:" + id }

// Store records a freshly opened session.
func (p *Presence) Store(ctx context.Context, s *Session) {
	if p == nil {
		return
	}
	key := sessionKey(s.ID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":    s.CreatedAt.Format(time.RFC3339),
		"last_activity": s.LastActivity().Format(time.RFC3339),
		"status":        s.State().String(),
	})
	pipe.SAdd(ctx, activeSessionsKey, s.ID)
	pipe.Expire(ctx, key, p.ttl)
	pipe.Expire(ctx, activeSessionsKey, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ [%s] Failed to store presence: %v", s.short(), err)
	}
}

// Touch refreshes the record and its TTL.
func (p *Presence) Touch(ctx context.Context, s *Session) {
	if p == nil {
		return
	}
	key := sessionKey(s.ID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key,
		"last_activity", s.LastActivity().Format(time.RFC3339),
		"status", s.State().String(),
		"dropped_chunks", s.Dropped(),
	)
	pipe.SAdd(ctx, activeSessionsKey, s.ID)
	pipe.Expire(ctx, key, p.ttl)
	pipe.Expire(ctx, activeSessionsKey, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ [%s] Failed to refresh presence: %v", s.short(), err)
	}
}

// Remove deletes the record of a closed session.
func (p *Presence) Remove(ctx context.Context, id string) {
	if p == nil {
		return
	}
	pipe := p.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, activeSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ Failed to remove presence for %s: %v", id, err)
	}
}

// Close releases the Redis client.
func (p *Presence) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
