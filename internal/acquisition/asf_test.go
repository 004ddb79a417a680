package acquisition

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/httpclient"
	"github.com/shipwatch/shipwatch/internal/logger"
)

const searchURL = "https://asf.test/services/search/param"

var (
	region = orb.Polygon{{{103.6, 1.1}, {104.1, 1.1}, {104.1, 1.5}, {103.6, 1.5}, {103.6, 1.1}}}
	from   = time.Date(2022, 10, 8, 0, 0, 0, 0, time.UTC)
	to     = time.Date(2022, 10, 13, 0, 0, 0, 0, time.UTC)
)

const searchResponse = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [103.8, 1.3]},
     "properties": {"sceneName": "S1A_OLDER", "fileName": "S1A_OLDER.zip",
       "url": "https://datapool.test/S1A_OLDER.zip", "bytes": 5, "startTime": "2022-10-09T22:48:16.000Z"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [103.8, 1.3]},
     "properties": {"sceneName": "S1A_NEWEST", "fileName": "S1A_NEWEST.zip",
       "url": "https://datapool.test/S1A_NEWEST.zip", "bytes": 7, "startTime": "2022-10-12T22:48:16.000000"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [103.8, 1.3]},
     "properties": {"sceneName": "S1A_NO_URL", "startTime": "2022-10-12T23:00:00Z"}}
  ]
}`

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport, string) {
	t.Helper()
	hc := httpclient.New(&httpclient.Config{DefaultTimeout: 5 * time.Second})
	mock := httpmock.NewMockTransport()
	hc.HTTPClient().Transport = mock

	dataDir := filepath.Join(t.TempDir(), "Data")
	settings := &conf.AcquisitionSettings{
		SearchURL:       searchURL,
		Username:        "earthdata-user",
		Password:        "earthdata-pass",
		DataDir:         dataDir,
		Platform:        "Sentinel-1",
		ProcessingLevel: "GRD_HD",
		MaxResults:      100,
		Timeout:         time.Second,
	}
	c := NewClient(settings, WithHTTPClient(hc), WithLogger(logger.NewDiscardLogger()))
	return c, mock, dataDir
}

func TestAcquireDownloadsNewestProduct(t *testing.T) {
	c, mock, dataDir := newTestClient(t)

	var query map[string][]string
	mock.RegisterResponder(http.MethodGet, `=~^https://asf\.test/services/search/param`,
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.Query()
			return httpmock.NewStringResponse(http.StatusOK, searchResponse), nil
		})

	var user, pass string
	mock.RegisterResponder(http.MethodGet, "https://datapool.test/S1A_NEWEST.zip",
		func(req *http.Request) (*http.Response, error) {
			user, pass, _ = req.BasicAuth()
			return httpmock.NewStringResponse(http.StatusOK, "payload"), nil
		})

	path, err := c.Acquire(t.Context(), region, from, to)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "S1A_NEWEST.zip"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	assert.Equal(t, "earthdata-user", user)
	assert.Equal(t, "earthdata-pass", pass)

	require.NotNil(t, query)
	assert.Equal(t, "Sentinel-1", query["platform"][0])
	assert.Equal(t, "GRD_HD", query["processingLevel"][0])
	assert.Equal(t, "geojson", query["output"][0])
	assert.Equal(t, "2022-10-08T00:00:00Z", query["start"][0])
	assert.Equal(t, "2022-10-13T00:00:00Z", query["end"][0])
	assert.True(t, strings.HasPrefix(query["intersectsWith"][0], "POLYGON(("), query["intersectsWith"][0])

	// no leftover partial files
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAcquireSkipsExistingDownload(t *testing.T) {
	c, mock, dataDir := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://asf\.test/`,
		httpmock.NewStringResponder(http.StatusOK, searchResponse))
	mock.RegisterResponder(http.MethodGet, "https://datapool.test/S1A_NEWEST.zip",
		httpmock.NewStringResponder(http.StatusOK, "payload"))

	require.NoError(t, os.MkdirAll(dataDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "S1A_NEWEST.zip"), []byte("cached!"), 0o600))

	path, err := c.Acquire(t.Context(), region, from, to)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cached!", string(content))
	assert.Zero(t, mock.GetCallCountInfo()["GET https://datapool.test/S1A_NEWEST.zip"])
}

func TestAcquireNoResults(t *testing.T) {
	c, mock, _ := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://asf\.test/`,
		httpmock.NewStringResponder(http.StatusOK, `{"type":"FeatureCollection","features":[]}`))

	path, err := c.Acquire(t.Context(), region, from, to)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestAcquireEmptyRegion(t *testing.T) {
	c, mock, _ := newTestClient(t)

	for _, g := range []orb.Geometry{nil, orb.Collection{}, orb.Polygon{}} {
		path, err := c.Acquire(t.Context(), g, from, to)
		require.NoError(t, err)
		assert.Empty(t, path)
	}
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestAcquireRejectsInvertedWindow(t *testing.T) {
	c, mock, _ := newTestClient(t)

	_, err := c.Acquire(t.Context(), region, to, from)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestAcquireSearchFailure(t *testing.T) {
	c, mock, _ := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://asf\.test/`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream exploded"))

	_, err := c.Acquire(t.Context(), region, from, to)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.False(t, errors.IsBusinessOutcome(err))
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestDownloadTruncated(t *testing.T) {
	c, mock, dataDir := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, "https://datapool.test/S1A_SHORT.zip",
		httpmock.NewStringResponder(http.StatusOK, "abc"))

	_, err := c.Download(t.Context(), &Product{
		SceneName: "S1A_SHORT",
		FileName:  "S1A_SHORT.zip",
		URL:       "https://datapool.test/S1A_SHORT.zip",
		Bytes:     10,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete download")

	_, statErr := os.Stat(filepath.Join(dataDir, "S1A_SHORT.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSearchOrdersByStartTime(t *testing.T) {
	c, mock, _ := newTestClient(t)
	mock.RegisterResponder(http.MethodGet, `=~^https://asf\.test/`,
		httpmock.NewStringResponder(http.StatusOK, searchResponse))

	products, err := c.Search(t.Context(), region, from, to)
	require.NoError(t, err)
	require.Len(t, products, 2, "hits without url are dropped")
	assert.Equal(t, "S1A_NEWEST", products[0].SceneName)
	assert.Equal(t, int64(7), products[0].Bytes)
	assert.Equal(t, "S1A_OLDER", products[1].SceneName)
}

func TestSearchGeometry(t *testing.T) {
	single := orb.Collection{orb.Polygon{}, region}
	assert.Equal(t, region, searchGeometry(single))

	multi := orb.Collection{region, orb.Point{10, 10}}
	poly, ok := searchGeometry(multi).(orb.Polygon)
	require.True(t, ok)
	assert.Equal(t, orb.Point{10, 1.1}, poly.Bound().Min)
	assert.Equal(t, orb.Point{104.1, 10}, poly.Bound().Max)
}
