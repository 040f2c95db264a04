package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/internal/engine"
)

func TestPublish_QueuesForEveryClient(t *testing.T) {
	b := NewBroadcaster()
	c1 := b.AddClient()
	c2 := b.AddClient()
	assert.Equal(t, 2, b.ClientCount())

	b.Publish(engine.Event{Type: engine.EventTagPromoted, Data: map[string]string{"tag": "cozy"}})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.events:
			assert.Contains(t, string(msg), "event: tag_promoted\n")
			assert.Contains(t, string(msg), `"tag":"cozy"`)
		default:
			t.Fatalf("client %s received nothing", c.ID)
		}
	}

	b.RemoveClient(c1)
	assert.Equal(t, 1, b.ClientCount())
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	b := NewBroadcaster()
	b.AddClient()

	for i := 0; i < ClientBuffer+5; i++ {
		b.Publish(engine.Event{Type: engine.EventVocabularyGrown})
	}

	assert.Equal(t, uint64(5), b.Dropped())
}

func TestRemoveClient_Twice(t *testing.T) {
	b := NewBroadcaster()
	c := b.AddClient()

	b.RemoveClient(c)
	assert.NotPanics(t, func() { b.RemoveClient(c) })
	assert.Zero(t, b.ClientCount())
}

func TestHandleSSE_StreamsEvents(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Publish(engine.Event{Type: engine.EventVocabularyGrown, Data: []string{"wifi"}})

	var got []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: vocabulary_grown") {
			got = append(got, line)
			data, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Contains(t, data, `"wifi"`)
			break
		}
	}
	assert.Len(t, got, 1)
}

func TestClose_EndsStreams(t *testing.T) {
	b := NewBroadcaster()
	c := b.AddClient()

	b.Close()

	select {
	case <-c.done:
	default:
		t.Fatal("client not closed")
	}
	assert.Zero(t, b.ClientCount())
}
