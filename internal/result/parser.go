// Package result reads the output of the ship-detection graph: the BEAM-DIMAP
// metadata document of a processed product and the ShipDetections vector file.
package result

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
)

const component = "result"

// metadataTimeLayout matches values such as "12-OCT-2022 22:48:41.866898".
// time.Parse accepts the trailing fractional seconds without a layout element
// and matches the month abbreviation case-insensitively.
const metadataTimeLayout = "02-Jan-2006 15:04:05"

// Column names of ShipDetections.csv
const (
	colPixelX = "Detected_x:Integer"
	colPixelY = "Detected_y:Integer"
	colLat    = "Detected_lat:Double"
	colLon    = "Detected_lon:Double"
	colWidth  = "Detected_width:Double"
	colLength = "Detected_length:Double"
)

// Parser turns processed products into tiles with their detections.
type Parser struct {
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock sets the clock used for Tile.ProcessedTime.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithLogger sets the parser logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// NewParser creates a parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Global().Module(component)
	}
	return p
}

// Parse reads the metadata and ship positions of the product at productPath.
func Parse(productPath string) (*detection.Tile, error) {
	return NewParser().Parse(productPath)
}

// Parse reads the metadata and ship positions of the product at productPath.
func (p *Parser) Parse(productPath string) (*detection.Tile, error) {
	tile, err := p.ParseMetadata(productPath)
	if err != nil {
		return nil, err
	}
	positions, err := p.ParseShipPositions(productPath)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		positions[i].TileDataset = tile.Dataset
	}
	tile.Detections = positions

	p.logger.Info("parsed product",
		logger.String("dataset", tile.Dataset),
		logger.String("orbit", string(tile.OrbitType)),
		logger.Int("detections", len(positions)))
	return tile, nil
}

// MetadataPath returns the .dim document path for a product.
func MetadataPath(productPath string) string {
	return strings.TrimSuffix(productPath, filepath.Ext(productPath)) + ".dim"
}

// ShipDetectionsPath returns the ShipDetections.csv path for a product.
func ShipDetectionsPath(productPath string) string {
	base := strings.TrimSuffix(productPath, filepath.Ext(productPath))
	return filepath.Join(base+".data", "vector_data", "ShipDetections.csv")
}

type dimapDocument struct {
	Sources []mdElem `xml:"Dataset_Sources>MDElem"`
}

type mdElem struct {
	Children []mdElem `xml:"MDElem"`
	Attrs    []mdAttr `xml:"MDATTR"`
}

type mdAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// metadataAttrs collects Dataset_Sources/MDElem/MDElem/MDATTR values by
// name. Later occurrences win.
func metadataAttrs(r io.Reader) (map[string]string, error) {
	var doc dimapDocument
	dec := xml.NewDecoder(r)
	// SNAP writes ISO-8859-1 documents
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	attrs := make(map[string]string)
	for _, top := range doc.Sources {
		for _, child := range top.Children {
			for _, a := range child.Attrs {
				attrs[a.Name] = strings.TrimSpace(a.Value)
			}
		}
	}
	return attrs, nil
}

// ParseMetadata builds a Tile from the product's .dim document.
func (p *Parser) ParseMetadata(productPath string) (*detection.Tile, error) {
	dimPath := MetadataPath(productPath)

	f, err := os.Open(dimPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(component, "metadata file", dimPath)
		}
		return nil, errors.New(err).Component(component).Category(errors.CategoryFileIO).Context("path", dimPath).Build()
	}
	defer f.Close()

	attrs, err := metadataAttrs(f)
	if err != nil {
		return nil, errors.ParseError(component, fmt.Errorf("malformed metadata document: %w", err), dimPath)
	}

	m := metadataReader{attrs: attrs, path: dimPath}
	tile := &detection.Tile{
		InputPath:  productPath,
		Dataset:    attrs["PRODUCT"],
		Descriptor: attrs["SPH_DESCRIPTOR"],
	}
	if tile.Dataset == "" {
		return nil, m.fail("PRODUCT", "missing product name")
	}

	orbit, known := detection.ParseOrbitType(attrs["PASS"])
	if !known {
		p.logger.Warn("unrecognised pass direction, assuming ascending",
			logger.String("pass", attrs["PASS"]),
			logger.String("dataset", tile.Dataset))
	}
	tile.OrbitType = orbit

	tile.ImageHeight = m.optionalInt("num_output_lines")
	tile.ImageWidth = m.optionalInt("num_samples_per_line")
	tile.ESAProcessedTime = m.optionalTime("PROC_TIME")

	first, okFirst := m.timestamp("first_line_time")
	last, okLast := m.timestamp("last_line_time")
	if m.err != nil {
		return nil, m.err
	}
	if !okFirst || !okLast {
		return nil, errors.ParseError(component, errors.NewStd("unable to parse dates: first_line_time and last_line_time are required"), dimPath)
	}
	tile.AcquisitionTime = first.Add(last.Sub(first) / 2)
	tile.ProcessedTime = p.now()

	if orbit == detection.OrbitDescending {
		tile.TopLeftLatitude = m.coordinate("first_far_lat")
		tile.TopLeftLongitude = m.coordinate("first_near_long")
		tile.BottomRightLatitude = m.coordinate("last_near_lat")
		tile.BottomRightLongitude = m.coordinate("last_far_long")
	} else {
		tile.TopLeftLatitude = m.coordinate("first_near_lat")
		tile.TopLeftLongitude = m.coordinate("first_far_long")
		tile.BottomRightLatitude = m.coordinate("last_far_lat")
		tile.BottomRightLongitude = m.coordinate("last_near_long")
	}
	if m.err != nil {
		return nil, m.err
	}

	return tile, nil
}

// metadataReader converts attribute values and keeps the first conversion error.
type metadataReader struct {
	attrs map[string]string
	path  string
	err   error
}

func (m *metadataReader) fail(name, reason string) error {
	return errors.Newf("metadata attribute %s: %s", name, reason).
		Component(component).
		Category(errors.CategoryFileParsing).
		Context("path", m.path).
		Context("attribute", name).
		Build()
}

func (m *metadataReader) setErr(name, reason string) {
	if m.err == nil {
		m.err = m.fail(name, reason)
	}
}

func (m *metadataReader) optionalInt(name string) int {
	v, ok := m.attrs[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		m.setErr(name, "invalid integer "+strconv.Quote(v))
	}
	return n
}

func (m *metadataReader) coordinate(name string) float64 {
	v, ok := m.attrs[name]
	if !ok {
		m.setErr(name, "missing")
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		m.setErr(name, "invalid number "+strconv.Quote(v))
	}
	return f
}

func (m *metadataReader) timestamp(name string) (time.Time, bool) {
	v, ok := m.attrs[name]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(metadataTimeLayout, v)
	if err != nil {
		m.setErr(name, "invalid timestamp "+strconv.Quote(v))
		return time.Time{}, false
	}
	return t, true
}

func (m *metadataReader) optionalTime(name string) time.Time {
	t, _ := m.timestamp(name)
	return t
}

// ParseShipPositions reads the detections of a product. Lines starting
// with '#' are comments; the first remaining line names the columns.
func (p *Parser) ParseShipPositions(productPath string) ([]detection.Detection, error) {
	csvPath := ShipDetectionsPath(productPath)

	f, err := os.Open(csvPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError(component, "ship detections file", csvPath)
		}
		return nil, errors.New(err).Component(component).Category(errors.CategoryFileIO).Context("path", csvPath).Build()
	}
	defer f.Close()

	positions, err := readShipPositions(f)
	if err != nil {
		return nil, errors.ParseError(component, err, csvPath)
	}
	return positions, nil
}

func readShipPositions(r io.Reader) ([]detection.Detection, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return []detection.Detection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range []string{colPixelX, colPixelY, colLat, colLon, colWidth, colLength} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}

	positions := []detection.Detection{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := cr.FieldPos(0)

		row := rowReader{record: record, index: index, line: line}
		d := detection.Detection{
			PixelX:    row.integer(colPixelX),
			PixelY:    row.integer(colPixelY),
			Latitude:  row.number(colLat),
			Longitude: row.number(colLon),
			Width:     row.number(colWidth),
			Length:    row.number(colLength),
		}
		if row.err != nil {
			return nil, row.err
		}
		positions = append(positions, d)
	}
	return positions, nil
}

type rowReader struct {
	record []string
	index  map[string]int
	line   int
	err    error
}

func (r *rowReader) value(col string) (string, bool) {
	i := r.index[col]
	if i >= len(r.record) {
		if r.err == nil {
			r.err = fmt.Errorf("line %d: missing value for %s", r.line, col)
		}
		return "", false
	}
	return strings.TrimSpace(r.record[i]), true
}

func (r *rowReader) integer(col string) int {
	v, ok := r.value(col)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("line %d: invalid integer %q for %s", r.line, v, col)
	}
	return n
}

func (r *rowReader) number(col string) float64 {
	v, ok := r.value(col)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("line %d: invalid number %q for %s", r.line, v, col)
	}
	return f
}
