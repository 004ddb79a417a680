// Package acquisition finds and downloads Sentinel-1 products from the ASF
// search API.
package acquisition

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/shipwatch/shipwatch/internal/conf"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/httpclient"
	"github.com/shipwatch/shipwatch/internal/logger"
)

const componentName = "acquisition"

// ASF returns timestamps with and without zone designator
var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
}

// Product is a search hit.
type Product struct {
	SceneName string
	FileName  string
	URL       string
	Bytes     int64
	StartTime time.Time
}

// Client queries the ASF search API and downloads products into the data
// directory.
type Client struct {
	settings conf.AcquisitionSettings
	http     *httpclient.Client
	logger   logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *httpclient.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client for settings.
func NewClient(settings *conf.AcquisitionSettings, opts ...Option) *Client {
	c := &Client{settings: *settings}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Global().Module(componentName)
	}
	if c.http == nil {
		// downloads can take far longer than any sane default; searches get
		// their own deadline
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: httpclient.NoTimeout})
	}
	c.http.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error, d time.Duration) {
		fields := []logger.Field{
			logger.String("method", req.Method),
			logger.String("host", req.URL.Host),
			logger.Duration("duration", d),
		}
		if err != nil {
			c.logger.Debug("request failed", append(fields, logger.Error(err))...)
			return
		}
		c.logger.Debug("request completed", append(fields, logger.Int("status", resp.StatusCode))...)
	})
	return c
}

// Acquire downloads the most recent product intersecting region whose
// acquisition falls between start and end and returns its local path. It
// returns an empty path when region is empty or nothing matches.
func (c *Client) Acquire(ctx context.Context, region orb.Geometry, start, end time.Time) (string, error) {
	if end.Before(start) {
		return "", errors.Newf("start date %s is after end date %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly)).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	if isEmpty(region) {
		c.logger.Info("empty region, nothing to acquire")
		return "", nil
	}

	products, err := c.Search(ctx, region, start, end)
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		c.logger.Info("no product found",
			logger.Time("start", start),
			logger.Time("end", end))
		return "", nil
	}

	latest := products[0]
	c.logger.Info("selected product",
		logger.String("scene", latest.SceneName),
		logger.Time("start_time", latest.StartTime),
		logger.Int("candidates", len(products)))

	return c.Download(ctx, &latest)
}

// Search returns matching products, most recent first.
func (c *Client) Search(ctx context.Context, region orb.Geometry, start, end time.Time) ([]Product, error) {
	query := url.Values{}
	query.Set("platform", c.settings.Platform)
	query.Set("processingLevel", c.settings.ProcessingLevel)
	query.Set("intersectsWith", wkt.MarshalString(searchGeometry(region)))
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))
	query.Set("output", "geojson")
	if c.settings.MaxResults > 0 {
		query.Set("maxResults", strconv.Itoa(c.settings.MaxResults))
	}

	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	resp, err := c.http.Get(ctx, c.settings.SearchURL+"?"+query.Encode())
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "search").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if err := httpclient.CheckResponse(resp); err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("operation", "search").
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "search").
			Build()
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decode search response: %w", err)).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Build()
	}

	products := make([]Product, 0, len(fc.Features))
	for _, f := range fc.Features {
		p, ok := c.productFromFeature(f)
		if !ok {
			continue
		}
		products = append(products, p)
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].StartTime.After(products[j].StartTime)
	})
	return products, nil
}

func (c *Client) productFromFeature(f *geojson.Feature) (Product, bool) {
	p := Product{
		SceneName: f.Properties.MustString("sceneName", ""),
		FileName:  f.Properties.MustString("fileName", ""),
		URL:       f.Properties.MustString("url", ""),
		Bytes:     int64(f.Properties.MustFloat64("bytes", 0)),
	}
	if p.URL == "" {
		c.logger.Debug("skipping search hit without url", logger.String("scene", p.SceneName))
		return Product{}, false
	}
	if p.FileName == "" {
		p.FileName = filepath.Base(p.URL)
	}

	raw := f.Properties.MustString("startTime", "")
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			p.StartTime = t.UTC()
			return p, true
		}
	}
	c.logger.Debug("skipping search hit with bad start time",
		logger.String("scene", p.SceneName),
		logger.String("start_time", raw))
	return Product{}, false
}

// Download fetches p into the data directory and returns the local path.
// A file of the expected size already present is reused.
func (c *Client) Download(ctx context.Context, p *Product) (string, error) {
	if err := os.MkdirAll(c.settings.DataDir, 0o750); err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("dir", c.settings.DataDir).
			Build()
	}

	dest := filepath.Join(c.settings.DataDir, filepath.Base(p.FileName))
	if info, err := os.Stat(dest); err == nil && p.Bytes > 0 && info.Size() == p.Bytes {
		c.logger.Info("product already downloaded",
			logger.String("path", dest),
			logger.String("size", humanize.Bytes(uint64(info.Size()))))
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		return "", errors.New(err).Component(componentName).Category(errors.CategoryNetwork).Build()
	}
	if c.settings.Username != "" {
		req.SetBasicAuth(c.settings.Username, c.settings.Password)
	}

	started := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("operation", "download").
			Context("scene", p.SceneName).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if err := httpclient.CheckResponse(resp); err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryHTTP).
			Context("operation", "download").
			Context("scene", p.SceneName).
			Build()
	}

	written, err := writeAtomically(dest, resp.Body)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("path", dest).
			Build()
	}
	if p.Bytes > 0 && written != p.Bytes {
		_ = os.Remove(dest)
		return "", errors.Newf("incomplete download of %s: got %s, expected %s",
			p.FileName, humanize.Bytes(uint64(written)), humanize.Bytes(uint64(p.Bytes))).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}

	c.logger.Info("product downloaded",
		logger.String("path", dest),
		logger.String("size", humanize.Bytes(uint64(written))),
		logger.Duration("duration", time.Since(started)))
	return dest, nil
}

// writeAtomically streams r into a temporary file next to dest and renames
// it into place once complete.
func writeAtomically(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), dest)
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Collection:
		for _, inner := range v {
			if !isEmpty(inner) {
				return false
			}
		}
		return true
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiPoint:
		return len(v) == 0
	}
	return false
}

// searchGeometry reduces collections to something the search API accepts.
func searchGeometry(g orb.Geometry) orb.Geometry {
	c, ok := g.(orb.Collection)
	if !ok {
		return g
	}
	var parts []orb.Geometry
	for _, inner := range c {
		if !isEmpty(inner) {
			parts = append(parts, inner)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return c.Bound().ToPolygon()
}
