// Package history persists per-(user, session) conversation logs in Redis.
//
// Each session owns two keys: an append-only list of JSON-encoded messages
// and a small hash with listing metadata (title, preview, updated_at). The
// list is the authoritative record; the hash is a best-effort projection and
// may lag behind it after partial failures.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/logger"
)

// DefaultSystemPrompt seeds every new session's message log.
const DefaultSystemPrompt = "You are a helpful assistant."

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	messageKeyPrefix = "chat:"
	metaKeyPrefix    = "chatmeta:"
)

// ChatMessage is one immutable entry in a session's log.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// SessionMeta is the mutable listing record kept per session.
type SessionMeta struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Preview   string `json:"preview"`
	UpdatedAt int64  `json:"updated_at"`
}

// RedisClient is the subset of go-redis commands the store uses.
// Interfaces are defined by the consumer: *redis.Client satisfies this, and
// tests substitute a fake built on the go-redis NewXxxResult helpers.
type RedisClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// Store is a Redis-backed, append-only conversation history.
// It is safe for concurrent use; appends to the same session are serialized.
type Store struct {
	client       RedisClient
	log          *logger.Logger
	systemPrompt string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() int64
}

// New creates a Store on top of the given Redis client.
func New(client RedisClient, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Global()
	}
	return &Store{
		client:       client,
		log:          log,
		systemPrompt: DefaultSystemPrompt,
		locks:        make(map[string]*sync.Mutex),
		now:          func() int64 { return time.Now().Unix() },
	}
}

// SetSystemPrompt replaces the prompt used to seed new sessions.
// Existing sessions keep the prompt they were seeded with.
func (s *Store) SetSystemPrompt(prompt string) {
	if prompt != "" {
		s.systemPrompt = prompt
	}
}

// Append adds one message to the session log and refreshes the session meta.
// The list write is authoritative: its failure fails the call. Meta failures
// are logged and swallowed; the session stays replayable from its log.
func (s *Store) Append(ctx context.Context, user, session, role, content string) error {
	lock := s.sessionLock(user, session)
	lock.Lock()
	defer lock.Unlock()

	return s.appendLocked(ctx, user, session, role, content)
}

func (s *Store) appendLocked(ctx context.Context, user, session, role, content string) error {
	entry := ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	if err := s.client.RPush(ctx, messageKey(user, session), data).Err(); err != nil {
		return fmt.Errorf("failed to append history for session %s: %w", session, err)
	}

	s.updateMeta(ctx, user, session, role, content, entry.Timestamp)

	s.log.Debug("History appended: user=%s session=%s role=%s", user, session, role)
	return nil
}

// updateMeta upserts the listing hash. Best effort only.
func (s *Store) updateMeta(ctx context.Context, user, session, role, content string, ts int64) {
	key := metaKey(user, session)

	fields := map[string]interface{}{
		"session_id": session,
		"preview":    tailRunes(content, consts.PreviewRuneLimit),
		"updated_at": strconv.FormatInt(ts, 10),
	}

	// The title is set exactly once, from the first user message.
	if role == RoleUser {
		meta, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			s.log.Warn("Failed to read session meta for %s: %v", session, err)
			meta = nil
		}
		if meta["title"] == "" {
			fields["title"] = headRunes(content, consts.TitleRuneLimit)
		}
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		s.log.Warn("Failed to update session meta for %s: %v", session, err)
	}
}

// Messages replays the full session log in append order.
func (s *Store) Messages(ctx context.Context, user, session string) ([]ChatMessage, error) {
	entries, err := s.client.LRange(ctx, messageKey(user, session), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for session %s: %w", session, err)
	}

	messages := make([]ChatMessage, 0, len(entries))
	for _, raw := range entries {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			s.log.Warn("Skipping malformed history entry for session %s: %v", session, err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// EnsureSeeded appends the default system message to an empty session.
// Calling it on a non-empty session is a no-op.
func (s *Store) EnsureSeeded(ctx context.Context, user, session string) error {
	lock := s.sessionLock(user, session)
	lock.Lock()
	defer lock.Unlock()

	count, err := s.client.LLen(ctx, messageKey(user, session)).Result()
	if err != nil {
		return fmt.Errorf("failed to check history length for session %s: %w", session, err)
	}
	if count > 0 {
		return nil
	}

	return s.appendLocked(ctx, user, session, RoleSystem, s.systemPrompt)
}

// Sessions lists every session with at least one message for the user,
// newest activity first. Ties break by session id so the order is stable.
func (s *Store) Sessions(ctx context.Context, user string) ([]SessionMeta, error) {
	keys, err := s.client.Keys(ctx, metaKeyPrefix+user+":*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user %s: %w", user, err)
	}

	sessions := make([]SessionMeta, 0, len(keys))
	for _, key := range keys {
		meta, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			s.log.Warn("Failed to read session meta %s: %v", key, err)
			continue
		}
		if len(meta) == 0 {
			continue
		}

		updatedAt, _ := strconv.ParseInt(meta["updated_at"], 10, 64)
		sessions = append(sessions, SessionMeta{
			SessionID: meta["session_id"],
			Title:     meta["title"],
			Preview:   meta["preview"],
			UpdatedAt: updatedAt,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt != sessions[j].UpdatedAt {
			return sessions[i].UpdatedAt > sessions[j].UpdatedAt
		}
		return sessions[i].SessionID > sessions[j].SessionID
	})

	return sessions, nil
}

func (s *Store) sessionLock(user, session string) *sync.Mutex {
	key := user + "\x00" + session
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func messageKey(user, session string) string {
	return messageKeyPrefix + user + ":" + session
}

func metaKey(user, session string) string {
	return metaKeyPrefix + user + ":" + session
}

// headRunes keeps the leading n runes of s.
func headRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// tailRunes keeps the trailing n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
