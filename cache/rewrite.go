package cache

// Action is what a rewriter wants done with a pending write.
type Action int

const (
	// ActionKeep leaves the write untouched.
	ActionKeep Action = iota
	// ActionReplace swaps the value seen by later rewriters and the store.
	ActionReplace
	// ActionSuppress drops the write.
	ActionSuppress
	// ActionFold drops the write and stores a value under another key instead.
	ActionFold
)

// Decision is the result of one rewriter.
type Decision struct {
	Action Action
	Value  any
	Key    string // target key for ActionFold
}

// Keep leaves the write as is.
func Keep() Decision { return Decision{Action: ActionKeep} }

// Replace continues the chain with v.
func Replace(v any) Decision { return Decision{Action: ActionReplace, Value: v} }

// Suppress aborts the write.
func Suppress() Decision { return Decision{Action: ActionSuppress} }

// FoldInto aborts the write and stores v under key without re-running the chain.
func FoldInto(key string, v any) Decision {
	return Decision{Action: ActionFold, Key: key, Value: v}
}

// Rewriter inspects a pending write against a read-only view of the cache.
// Rewriters must not mutate the values they are given.
type Rewriter func(key string, value any, snapshot Reader) Decision
