// Package etcdresolver implements resolver.Resolver backed by an etcd
// watch on a key prefix. Each key under the prefix is one backend; its
// value is a JSON-encoded record of address, port, and attributes.
package etcdresolver

import (
	"context"
	"encoding/json"
	"fmt"

	"svcpool/resolver"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Record is the JSON shape stored at each key under the watched prefix.
type Record struct {
	Address    string            `json:"address"`
	Port       int               `json:"port"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New returns a Resolver that treats every key under keyPrefix as one
// backend, keyed by its full etcd key. It issues a Get(WithPrefix) for the
// initial snapshot, then a long-lived Watch(WithPrefix) for incremental
// updates, for as long as the returned Closer is not closed.
func New(client *clientv3.Client, keyPrefix string) resolver.Resolver {
	return &etcdResolver{client: client, prefix: keyPrefix}
}

type etcdResolver struct {
	client *clientv3.Client
	prefix string
}

// RefreshHint is a no-op: etcd pushes updates via Watch, so there is
// nothing to proactively re-poll.
func (r *etcdResolver) RefreshHint() {}

func (r *etcdResolver) Start(ctx context.Context, receiver resolver.Receiver) resolver.Closer {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go r.run(ctx, receiver, done)
	return &task{cancel: cancel, done: done}
}

func (r *etcdResolver) run(ctx context.Context, receiver resolver.Receiver, done chan struct{}) {
	defer close(done)

	getResp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		receiver.OnResolveError(err)
		return
	}

	known := make(map[string]struct{}, len(getResp.Kvs))
	for _, kv := range getResp.Kvs {
		b, ok := decode(string(kv.Key), kv.Value, receiver)
		if !ok {
			continue
		}
		known[b.Key] = struct{}{}
		receiver.OnAdded(b)
	}
	receiver.OnSteadyState()

	watchChan := r.client.Watch(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithRev(getResp.Header.Revision+1))
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-watchChan:
			if !ok {
				return
			}
			if err := resp.Err(); err != nil {
				receiver.OnResolveError(err)
				continue
			}
			for _, ev := range resp.Events {
				r.applyEvent(ev, known, receiver)
			}
		}
	}
}

func (r *etcdResolver) applyEvent(ev *clientv3.Event, known map[string]struct{}, receiver resolver.Receiver) {
	key := string(ev.Kv.Key)
	switch ev.Type {
	case clientv3.EventTypePut:
		b, ok := decode(key, ev.Kv.Value, receiver)
		if !ok {
			return
		}
		known[b.Key] = struct{}{}
		receiver.OnAdded(b)
	case clientv3.EventTypeDelete:
		if _, ok := known[key]; !ok {
			return
		}
		delete(known, key)
		receiver.OnRemoved(key)
	}
}

func decode(key string, value []byte, receiver resolver.Receiver) (resolver.Backend, bool) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		receiver.OnResolveError(fmt.Errorf("etcdresolver: decoding %s: %w", key, err))
		return resolver.Backend{}, false
	}
	return resolver.Backend{
		Key:        key,
		Address:    rec.Address,
		Port:       rec.Port,
		Attributes: rec.Attributes,
	}, true
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) Close() error {
	t.cancel()
	<-t.done
	return nil
}
