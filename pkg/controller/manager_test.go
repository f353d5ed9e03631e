package controller

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/metrics"
	"github.com/mesycontrol/mrc-go/pkg/model"
	"github.com/mesycontrol/mrc-go/pkg/transport"
)

func TestManager(t *testing.T) {
	r := startReactor(t)
	a, b := startSim(t), startSim(t)
	a.SetDevice(0, 0, 17, false)
	b.SetDevice(1, 1, 20, true)

	m := NewManager(r, quiet(Config{Metrics: metrics.New()}))

	var mu sync.Mutex
	connected := map[string]bool{}
	m.OnEvent(func(ev Event) {
		if ev.Type == EventConnected {
			mu.Lock()
			connected[ev.URL] = true
			mu.Unlock()
		}
	})

	urlA, urlB := a.URL(transport.SchemeMC), b.URL(transport.SchemeTCP)
	_, err := m.Add(urlA)
	require.NoError(t, err)
	_, err = m.Add(urlB)
	require.NoError(t, err)
	_, err = m.Add(urlA)
	assert.ErrorIs(t, err, model.ErrDuplicateMRC)
	_, err = m.Add("bogus://x")
	assert.ErrorIs(t, err, transport.ErrInvalidURL)
	assert.Equal(t, 2, m.Registry().Len())

	ctrls := m.Controllers()
	require.Len(t, ctrls, 2)
	assert.LessOrEqual(t, ctrls[0].URL(), ctrls[1].URL())

	var all *future.Future[[]*future.Future[bool]]
	onLoop(t, r, func() { all = m.ConnectAll(0) })
	results, err := await(t, all)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, f := range results {
		ok, err := f.Result()
		require.NoError(t, err)
		assert.True(t, ok)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected[urlA] && connected[urlB]
	}, testTimeout, 5*time.Millisecond)

	cb, ok := m.Get(urlB)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, found := cb.Device(1, 1)
		return found
	}, testTimeout, 5*time.Millisecond)

	onLoop(t, r, func() { require.NoError(t, m.Remove(urlA)) })
	_, ok = m.Get(urlA)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Registry().Len())
	onLoop(t, r, func() { assert.ErrorIs(t, m.Remove(urlA), model.ErrMRCNotFound) })
	assert.Eventually(t, func() bool { return a.ClientCount() == 0 }, testTimeout, 5*time.Millisecond)

	onLoop(t, r, func() { all = m.DisconnectAll() })
	_, err = await(t, all)
	require.NoError(t, err)
	assert.Equal(t, transport.StateDisconnected, cb.State())
}
