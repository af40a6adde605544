package intents

import (
	"context"
	"sort"
	"strings"

	"github.com/PaulFidika/accesskit/entitlements"
)

// Namespaced scopes backend to keys under ns, so several users can share one
// durable KV without seeing each other's intents.
func Namespaced(backend Backend, ns string) Backend {
	if ns == "" {
		return backend
	}
	return &namespaced{inner: backend, ns: ns + ":"}
}

type namespaced struct {
	inner Backend
	ns    string
}

func (n *namespaced) Put(ctx context.Context, key string, value []byte) error {
	return n.inner.Put(ctx, n.ns+key, value)
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.ns+key)
}

func (n *namespaced) Del(ctx context.Context, key string) error {
	return n.inner.Del(ctx, n.ns+key)
}

func (n *namespaced) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.inner.Keys(ctx, n.ns+prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, n.ns) {
			out = append(out, strings.TrimPrefix(k, n.ns))
		}
	}
	return out, nil
}

// Namespaces lists the namespaces that hold at least one intent in backend.
func Namespaces(ctx context.Context, backend Backend) ([]string, error) {
	keys, err := backend.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, k := range keys {
		i := strings.Index(k, ":"+entitlements.IntentKeyPrefix)
		if i <= 0 {
			continue
		}
		seen[k[:i]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}
