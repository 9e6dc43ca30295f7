// Package presence answers whether a user is currently reachable in real time.
package presence

import (
	"context"
	"fmt"
)

// Oracle reports whether a user is present. It is a heuristic: callers must
// stay correct when it is wrong in either direction.
type Oracle interface {
	IsPresent(ctx context.Context, userID string) (bool, error)
}

// SessionStore is the write side owned by the authentication layer.
type SessionStore interface {
	Oracle
	Touch(ctx context.Context, userID string, data string) error
	Remove(ctx context.Context, userID string) error
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, userID string) (bool, error)

func (f OracleFunc) IsPresent(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

// RequireAll is present only when every oracle reports present. It stops at
// the first negative answer or error.
func RequireAll(oracles ...Oracle) Oracle {
	return OracleFunc(func(ctx context.Context, userID string) (bool, error) {
		for _, o := range oracles {
			ok, err := o.IsPresent(ctx, userID)
			if err != nil {
				return false, fmt.Errorf("presence check: %w", err)
			}
			if !ok {
				return false, nil
			}
		}
		return len(oracles) > 0, nil
	})
}

// SessionKey is the key holding a user's session entry.
func SessionKey(userID string) string {
	return "user:session:" + userID
}
