package shared

import (
	"context"
	"sync"
)

// Transactor runs a function inside a storage transaction.
// A call made with a context that already carries a transaction joins it,
// so nested units of work commit or roll back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxScope collects callbacks that must only run once the outermost
// transaction has committed.
type TxScope struct {
	mu    sync.Mutex
	hooks []func()
}

type txScopeKey struct{}

// NewTxScope attaches a fresh scope to ctx.
func NewTxScope(ctx context.Context) (context.Context, *TxScope) {
	scope := &TxScope{}
	return context.WithValue(ctx, txScopeKey{}, scope), scope
}

// TxScopeFromContext returns the scope of the enclosing transaction, if any.
func TxScopeFromContext(ctx context.Context) (*TxScope, bool) {
	scope, ok := ctx.Value(txScopeKey{}).(*TxScope)
	return scope, ok
}

// RunHooks executes the registered callbacks in registration order.
func (s *TxScope) RunHooks() {
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}

// AfterCommit defers fn until the enclosing transaction commits.
// Outside a transaction fn runs immediately. Hooks of a rolled back
// transaction are discarded.
func AfterCommit(ctx context.Context, fn func()) {
	scope, ok := TxScopeFromContext(ctx)
	if !ok {
		fn()
		return
	}
	scope.mu.Lock()
	scope.hooks = append(scope.hooks, fn)
	scope.mu.Unlock()
}
