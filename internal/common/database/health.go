package database

import (
	"context"
	"fmt"
)

// Pinger is any backing service that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll pings every named dependency and returns the failures by name.
func CheckAll(ctx context.Context, deps map[string]Pinger) map[string]error {
	failures := map[string]error{}
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			failures[name] = fmt.Errorf("%s: %w", name, err)
		}
	}
	return failures
}
