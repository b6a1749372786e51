package etcdresolver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"svcpool/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type recordingReceiver struct {
	added   []resolver.Backend
	removed []string
	steady  int
	errs    []error
}

func (r *recordingReceiver) OnAdded(b resolver.Backend) { r.added = append(r.added, b) }
func (r *recordingReceiver) OnRemoved(key string)       { r.removed = append(r.removed, key) }
func (r *recordingReceiver) OnSteadyState()             { r.steady++ }
func (r *recordingReceiver) OnResolveError(err error)   { r.errs = append(r.errs, err) }

func TestDecodeParsesValidRecord(t *testing.T) {
	t.Parallel()
	val, err := json.Marshal(Record{Address: "10.0.0.1", Port: 9000, Attributes: map[string]string{"zone": "a"}})
	require.NoError(t, err)

	rec := &recordingReceiver{}
	b, ok := decode("/backends/10.0.0.1:9000", val, rec)
	require.True(t, ok)
	assert.Equal(t, "/backends/10.0.0.1:9000", b.Key)
	assert.Equal(t, "10.0.0.1", b.Address)
	assert.Equal(t, 9000, b.Port)
	assert.Equal(t, "a", b.Attributes["zone"])
	assert.Empty(t, rec.errs)
}

func TestDecodeReportsMalformedValueAsResolveError(t *testing.T) {
	t.Parallel()
	rec := &recordingReceiver{}
	_, ok := decode("/backends/broken", []byte("not json"), rec)
	assert.False(t, ok)
	require.Len(t, rec.errs, 1)
}

// TestResolverAgainstLiveEtcd exercises the full Get-then-Watch lifecycle
// against a real etcd instance. It requires etcd listening on
// localhost:2379 and is skipped otherwise.
func TestResolverAgainstLiveEtcd(t *testing.T) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Skip("etcd not available:", err)
	}
	defer client.Close()

	prefix := "/svcpool-test/"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		t.Skip("etcd not reachable:", err)
	}

	val, err := json.Marshal(Record{Address: "127.0.0.1", Port: 8080})
	require.NoError(t, err)
	_, err = client.Put(ctx, prefix+"a", string(val))
	require.NoError(t, err)

	r := New(client, prefix)
	rec := &recordingReceiver{}
	closer := r.Start(ctx, rec)
	defer closer.Close()

	require.Eventually(t, func() bool { return rec.steady == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Len(t, rec.added, 1)

	_, err = client.Put(ctx, prefix+"b", string(val))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.added) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = client.Delete(ctx, prefix+"a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.removed) == 1 }, 2*time.Second, 10*time.Millisecond)
}
