package storage

import (
	"context"
	"strings"
	"time"

	"PPRelay/tools/errs"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: <prefix><username>, default prefix "presence:".
// Value: the marker of the session that last reported the user online.
// TTL bounds how long a silent session keeps the user online.

// KEYS[1] = presence key
// ARGV[1] = marker
// 1 when the key held marker and was deleted, 0 otherwise
const luaOfflineIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// KEYS[1] = presence key
// ARGV[1] = marker
// ARGV[2] = ttl in milliseconds
// 1 when renewed, 0 when the key is gone or owned by another session
const luaTouchIfOwner = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const maxUsernameLen = 128

type PresenceStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration

	offline *redis.Script
	touch   *redis.Script
}

func NewPresenceStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *PresenceStore {
	if prefix == "" {
		prefix = "presence:"
	}
	return &PresenceStore{
		rdb:     rdb,
		prefix:  prefix,
		ttl:     ttl,
		offline: redis.NewScript(luaOfflineIfOwner),
		touch:   redis.NewScript(luaTouchIfOwner),
	}
}

func (s *PresenceStore) TTL() time.Duration { return s.ttl }

func (s *PresenceStore) key(username string) string { return s.prefix + username }

// ValidateUsername rejects identifiers that cannot be a user id.
func ValidateUsername(username string) error {
	switch {
	case username == "":
		return errs.ErrInvalidArgument.WithDetail("username is empty")
	case len(username) > maxUsernameLen:
		return errs.ErrInvalidArgument.WithDetail("username too long")
	case strings.ContainsAny(username, " \t\r\n"):
		return errs.ErrInvalidArgument.WithDetail("username contains whitespace")
	}
	return nil
}

// IsOnline reports whether a non-empty presence record exists. A missing
// record is (false, nil); a store failure is an infrastructure error.
func (s *PresenceStore) IsOnline(ctx context.Context, username string) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	val, err := s.rdb.Get(ctx, s.key(username)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errs.ErrInfrastructure.Wrap(err, "presence lookup")
	}
	return val != "", nil
}

// Online marks username online with marker and renews the TTL.
func (s *PresenceStore) Online(ctx context.Context, username, marker string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if marker == "" {
		marker = "1"
	}
	if err := s.rdb.Set(ctx, s.key(username), marker, s.ttl).Err(); err != nil {
		return errs.ErrInfrastructure.Wrap(err, "presence set")
	}
	return nil
}

// Touch renews the TTL if marker still owns the record.
func (s *PresenceStore) Touch(ctx context.Context, username, marker string) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	rc, err := s.touch.Run(ctx, s.rdb, []string{s.key(username)}, marker, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errs.ErrInfrastructure.Wrap(err, "presence touch")
	}
	return rc == 1, nil
}

// Offline removes the record only while marker owns it, so a stale session
// cannot log out a newer one.
func (s *PresenceStore) Offline(ctx context.Context, username, marker string) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	rc, err := s.offline.Run(ctx, s.rdb, []string{s.key(username)}, marker).Int64()
	if err != nil {
		return false, errs.ErrInfrastructure.Wrap(err, "presence offline")
	}
	return rc == 1, nil
}
