package hub_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"hubsub/hub"
	"hubsub/publisher"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>channel-orders</id>
  <title>orders</title>
  <updated>2011-05-01T10:00:00Z</updated>
  <link rel="self" href="/channels/orders/events"/>
  <link rel="next" href="/channels/orders/events/before/17"/>
  <link rel="previous" href="http://%s/channels/orders/events/after/19"/>
  <entry>
    <id>19</id>
    <title>event 19</title>
    <updated>2011-05-01T10:00:00Z</updated>
    <link rel="alternate" href="/events/19"/>
    <link rel="edit" href="/events/19/edit"/>
  </entry>
  <entry>
    <id>18</id>
    <title>event 18</title>
    <updated>2011-05-01T09:00:00Z</updated>
    <link href="/events/18"/>
  </entry>
</feed>`

const emptyPageXML = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <id>channel-orders</id>
  <title>orders</title>
  <updated>2011-05-01T10:00:00Z</updated>
  <link rel="next" href="/channels/orders/events/before/20"/>
</feed>`

func newHub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/channels/orders/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/atom+xml", r.Header.Get("Accept"))
		assert.Equal(t, "hubsub-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprintf(w, pageXML, server.Listener.Addr().String())
	})
	mux.HandleFunc("/channels/orders/events/after/19", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		io.WriteString(w, emptyPageXML)
	})
	mux.HandleFunc("/events/19", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"19","uniqueId":"a1b2","content-type":"application/xml","content-as-string":"<order id=\"7\"/>","created-at":"2011-05-01T10:00:00Z"}`)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not xml")
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchPage(t *testing.T) {
	server := newHub(t)
	client := hub.NewClient(hub.ClientConfig{UserAgent: "hubsub-test", Timeout: 5 * time.Second})

	page, err := client.FetchPage(context.Background(), server.URL+"/channels/orders/events")
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/channels/orders/events", page.URI)
	assert.Equal(t, server.URL+"/channels/orders/events/before/17", page.Older)
	assert.Equal(t, server.URL+"/channels/orders/events/after/19", page.Newer)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "19", page.Entries[0].ID)
	assert.Equal(t, server.URL+"/events/19", page.Entries[0].Permalink)
	assert.Equal(t, server.URL+"/events/18", page.Entries[1].Permalink)
}

func TestFetchEmptyPage(t *testing.T) {
	server := newHub(t)
	client := hub.NewClient(hub.ClientConfig{})

	page, err := client.FetchPage(context.Background(), server.URL+"/channels/orders/events/after/19")
	require.NoError(t, err)
	assert.True(t, page.Empty())
	assert.Equal(t, "", page.Newer)
	assert.Equal(t, server.URL+"/channels/orders/events/before/20", page.Older)
}

func TestFetchPageFailures(t *testing.T) {
	server := newHub(t)
	client := hub.NewClient(hub.ClientConfig{})

	for _, path := range []string{"/broken", "/gone", "/missing"} {
		t.Run(path, func(t *testing.T) {
			_, err := client.FetchPage(context.Background(), server.URL+path)
			assert.Error(t, err)
		})
	}
}

func TestFetchEvent(t *testing.T) {
	server := newHub(t)
	client := hub.NewClient(hub.ClientConfig{})

	event, err := client.FetchEvent(context.Background(), server.URL+"/events/19")
	require.NoError(t, err)
	assert.Equal(t, "19", event.ID)
	assert.Equal(t, "a1b2", event.UniqueID)
	assert.Equal(t, "application/xml", event.ContentType)
	assert.Equal(t, `<order id="7"/>`, event.Content)
	assert.Equal(t, "2011-05-01T10:00:00Z", event.CreatedAt)

	_, err = client.FetchEvent(context.Background(), server.URL+"/gone")
	assert.Error(t, err)
}

func TestPublish(t *testing.T) {
	var status atomic.Int32
	var received atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		received.Store(r.Header.Get("Content-Type") + " " + string(body))
		if s := int(status.Load()); s == http.StatusSeeOther {
			http.Redirect(w, r, "/elsewhere", s)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client := hub.NewClient(hub.ClientConfig{ChannelHubURI: server.URL + "/channels/orders/hub"})

	tests := []struct {
		status  int
		want    bool
		wantErr bool
	}{
		{status: http.StatusCreated, want: true},
		{status: http.StatusSeeOther, want: true},
		{status: http.StatusBadRequest, want: false},
		{status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			status.Store(int32(tt.status))

			got, err := client.Publish(context.Background(), "application/json", `{"order":7}`)
			assert.Equal(t, `application/json {"order":7}`, received.Load())
			if tt.wantErr {
				assert.ErrorIs(t, err, publisher.ErrPublication)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublishUnreachableHubIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := hub.NewClient(hub.ClientConfig{ChannelHubURI: url, Timeout: time.Second})
	_, err := client.Publish(context.Background(), "text/plain", "x")
	assert.ErrorIs(t, err, publisher.ErrPublication)

	_, err = hub.NewClient(hub.ClientConfig{}).Publish(context.Background(), "text/plain", "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, publisher.ErrPublication)
}

func TestFetchCompressedResponses(t *testing.T) {
	event := `{"id":"5","uniqueId":"u5","content-type":"text/plain","content-as-string":"five","created-at":"2011-05-01T10:00:00Z"}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zstd, gzip", r.Header.Get("Accept-Encoding"))

		var buf bytes.Buffer
		switch r.URL.Path {
		case "/gzip":
			zw := gzip.NewWriter(&buf)
			io.WriteString(zw, event)
			zw.Close()
			w.Header().Set("Content-Encoding", "gzip")
		case "/zstd":
			zw, _ := zstd.NewWriter(&buf)
			io.WriteString(zw, event)
			zw.Close()
			w.Header().Set("Content-Encoding", "zstd")
		case "/brotli":
			w.Header().Set("Content-Encoding", "br")
			buf.WriteString("???")
		default:
			buf.WriteString(event)
		}
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := hub.NewClient(hub.ClientConfig{})

	for _, path := range []string{"/plain", "/gzip", "/zstd"} {
		t.Run(path, func(t *testing.T) {
			got, err := client.FetchEvent(context.Background(), server.URL+path)
			require.NoError(t, err)
			assert.Equal(t, "five", got.Content)
		})
	}

	_, err := client.FetchEvent(context.Background(), server.URL+"/brotli")
	assert.Error(t, err)
}
