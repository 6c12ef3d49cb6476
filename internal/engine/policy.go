package engine

import "fmt"

// Policy selects how a processor schedules executions.
type Policy struct {
	concurrent bool
	limit      int
}

// Synchronous runs one execution at a time, inline in the scheduling loop.
func Synchronous() Policy {
	return Policy{limit: 1}
}

// Concurrent runs up to limit executions at once and yields for the poll
// interval between passes.
func Concurrent(limit int) Policy {
	return Policy{concurrent: true, limit: limit}
}

// IsConcurrent reports whether the policy runs executions in parallel.
func (p Policy) IsConcurrent() bool {
	return p.concurrent
}

// Limit returns the admission limit.
func (p Policy) Limit() int {
	return p.limit
}

func (p Policy) String() string {
	if p.concurrent {
		return fmt.Sprintf("concurrent(%d)", p.limit)
	}
	return "synchronous"
}

func (p Policy) validate() error {
	if p.limit < 1 {
		return configError("policy %s: concurrency must be at least 1", p)
	}
	return nil
}

// ParsePolicy maps a configured policy name to a Policy. Synchronous
// ignores limit.
func ParsePolicy(name string, limit int) (Policy, error) {
	switch name {
	case "", "synchronous", "sync":
		return Synchronous(), nil
	case "concurrent", "async":
		p := Concurrent(limit)
		if err := p.validate(); err != nil {
			return Policy{}, err
		}
		return p, nil
	default:
		return Policy{}, configError("unknown policy %q", name)
	}
}
