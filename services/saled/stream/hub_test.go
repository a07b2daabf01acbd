package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"crowdsale/core/events"
	"crowdsale/core/types"
)

func wrap(eventType string) events.Event {
	return events.Wrap(&types.Event{Type: eventType, Attributes: map[string]string{"sale": "presale"}})
}

func TestHubFiltersAndDrops(t *testing.T) {
	hub := NewHub(1, nil)
	all, cancelAll := hub.Subscribe("")
	ceilingOnly, cancelCeiling := hub.Subscribe("ceiling.")
	require.Equal(t, 2, hub.Subscribers())

	hub.Emit(wrap("sale.opened"))
	hub.Emit(wrap("ceiling.revealed"))

	require.Equal(t, "sale.opened", (<-all).Type)
	require.Equal(t, "ceiling.revealed", (<-ceilingOnly).Type)
	require.Equal(t, uint64(1), hub.Dropped())

	cancelAll()
	cancelAll()
	cancelCeiling()
	require.Zero(t, hub.Subscribers())
	_, open := <-all
	require.False(t, open)
	hub.Emit(wrap("sale.closed"))
}

func TestWebsocketStream(t *testing.T) {
	hub := NewHub(8, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?type=sale."
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Emit(wrap("ceiling.committed"))
	hub.Emit(wrap("sale.closed"))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "sale.closed", evt.Type)
	require.Equal(t, "presale", evt.Attribute("sale"))
}
