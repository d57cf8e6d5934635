package collector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ciphermesh/coordinator/pkg/e3/keyshare/collector"
)

func TestCollectorCompletesWhenAllReport(t *testing.T) {
	done := make(chan map[string]string, 1)
	c := collector.New[string]([]string{"a", "b"}, time.Second, func(v map[string]string) {
		done <- v
	}, func([]string) {
		t.Fatal("should not time out")
	})

	c.Add("a", "va")
	c.Add("b", "vb")

	select {
	case v := <-done:
		require.Equal(t, map[string]string{"a": "va", "b": "vb"}, v)
	case <-time.After(time.Second):
		t.Fatal("expected completion")
	}
}

func TestCollectorTimesOutNamingStragglers(t *testing.T) {
	failed := make(chan []string, 1)
	c := collector.New[string]([]string{"a", "b"}, 20*time.Millisecond, func(map[string]string) {
		t.Fatal("should not complete")
	}, func(missing []string) {
		failed <- missing
	})

	c.Add("a", "va")

	select {
	case missing := <-failed:
		require.Equal(t, []string{"b"}, missing)
	case <-time.After(time.Second):
		t.Fatal("expected timeout")
	}
}

func TestCollectorIgnoresUnexpectedParty(t *testing.T) {
	c := collector.New[string]([]string{"a"}, time.Second, func(map[string]string) {}, func([]string) {})
	require.False(t, c.Add("stranger", "v"))
}

func TestCollectorStopSuppressesCallbacks(t *testing.T) {
	c := collector.New[string]([]string{"a"}, 10*time.Millisecond, func(map[string]string) {
		t.Fatal("should not complete after Stop")
	}, func([]string) {
		t.Fatal("should not time out after Stop")
	})
	c.Stop()
	time.Sleep(50 * time.Millisecond)
}
