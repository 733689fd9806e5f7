package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmedit/osmedit/pkg/core"
	"github.com/osmedit/osmedit/pkg/geo"
	"github.com/osmedit/osmedit/pkg/osm"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL,
		WithRateLimit(1000, 1000),
		WithTokenProvider(StaticTokenProvider("test-token")))
}

func TestMapData(t *testing.T) {
	const payload = `<osm version="0.6"><node id="1" version="1" changeset="9" lat="1" lon="2"/></osm>`
	var gotPath, gotQuery, gotAgent string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(payload))
	}))

	bbox := geo.NewBoundingBox(geo.Point{Lat: 52.5, Lon: 13.4}, 0.001)
	data, err := c.MapData(context.Background(), bbox)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, "/api/0.6/map", gotPath)
	assert.Equal(t, "bbox="+bbox.Query(), gotQuery)
	assert.Equal(t, UserAgent, gotAgent)
}

func TestRawQuery(t *testing.T) {
	const payload = `<osm version="0.6"><node id="1" version="1" changeset="9" lat="1" lon="2"/></osm>`
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithRateLimit(1000, 1000))
	data, err := c.RawQuery(context.Background(), srv.URL+"/custom/query")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Empty(t, gotAuth, "raw queries carry no authorization")
}

func TestMapDataObjectLimit(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, 509} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("You requested too many nodes"))
		}))

		_, err := c.MapData(context.Background(), geo.NewBoundingBox(geo.Point{Lat: 1, Lon: 2}, 0.01))
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrObjectLimit, "status %d", status)

		var coreErr *core.Error
		require.ErrorAs(t, err, &coreErr)
		assert.Contains(t, coreErr.Body, "too many nodes")
	}
}

func TestMapDataRejectsInvalidBbox(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	bad := geo.BoundingBox{MinLat: 2, MinLon: 2, MaxLat: 1, MaxLon: 1}
	_, err := c.MapData(context.Background(), bad)
	require.Error(t, err)
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, string(core.ErrInvalidBbox), coreErr.Code)
}

func TestOpenChangeset(t *testing.T) {
	var gotAuth, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/0.6/changeset/create", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte("31337\n"))
	}))

	id, err := c.OpenChangeset(context.Background(), "add a bench")
	require.NoError(t, err)
	assert.Equal(t, int64(31337), id)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Contains(t, gotBody, `<tag k="comment" v="add a bench">`)
}

func TestOpenChangesetMalformedID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>surprise</html>"))
	}))
	_, err := c.OpenChangeset(context.Background(), "x")
	require.Error(t, err)
	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, string(core.ErrMalformedResponse), coreErr.Code)
}

func TestOpenChangesetWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unauthenticated request should not be sent")
	}))
	defer srv.Close()
	c := New(srv.URL, WithRateLimit(1000, 1000))
	_, err := c.OpenChangeset(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrAuthRequired)
}

func TestUploadChangeset(t *testing.T) {
	var gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/0.6/changeset/77/upload", r.URL.Path)
		buf := new(strings.Builder)
		_, err := io.Copy(buf, r.Body)
		require.NoError(t, err)
		gotBody = buf.String()
		w.Write([]byte(`<diffResult version="0.6">
  <node old_id="-1" new_id="900" new_version="1"/>
</diffResult>`))
	}))

	plan := osm.PartitionEdits(
		[]*osm.EditObject{{Type: osm.TypeNode, ID: -1, Lat: 1, Lon: 2}}, nil)
	plan.Stamp(77)

	entries, err := c.UploadChangeset(context.Background(), 77, plan)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(900), entries[0].NewID)
	assert.Contains(t, gotBody, `changeset="77"`)
}

func TestUploadChangesetRejectionKeepsServerText(t *testing.T) {
	const explanation = `Precondition failed: Node 5 is still used by way 9.`
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(explanation))
	}))

	plan := osm.PartitionEdits(nil,
		[]*osm.EditObject{{Type: osm.TypeNode, ID: 5, Version: 1}})
	_, err := c.UploadChangeset(context.Background(), 12, plan)
	require.Error(t, err)

	var coreErr *core.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, explanation, coreErr.Body)
	// Client errors are final, not retried.
	assert.Equal(t, 1, calls)
}

func TestCloseChangeset(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPut, r.Method)
	}))
	require.NoError(t, c.CloseChangeset(context.Background(), 55))
	assert.Equal(t, "/api/0.6/changeset/55/close", gotPath)
}

func TestUserDetails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/0.6/user/details.json", r.URL.Path)
		w.Write([]byte(`{"version":"0.6","user":{"id":4242,"display_name":"mapper",
			"account_created":"2019-03-01T00:00:00Z","img":{"href":"https://example.com/a.png"}}}`))
	}))

	info, err := c.UserDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4242), info.ID)
	assert.Equal(t, "mapper", info.DisplayName)
	assert.Equal(t, "https://example.com/a.png", info.ImageURL)
}
