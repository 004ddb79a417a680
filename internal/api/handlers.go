package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/notification"
)

const (
	dataTypeGeoJSON = "geojson"
	dataTypeCSV     = "csv"

	// defaultClientID is used when a submission names no client.
	defaultClientID = "0"

	msgEndBeforeStart = "End date should be later than start date."
)

// SubmissionResponse acknowledges an accepted region. The outcome arrives
// later on the client's websocket.
type SubmissionResponse struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// cachedBody is a rendered query result held in the query cache.
type cachedBody struct {
	contentType string
	body        []byte
}

// submitRegion accepts a search region and starts a detached pipeline run.
func (s *Server) submitRegion(c echo.Context) error {
	today := truncateDay(s.now())
	start, end, err := parseWindow(c,
		today.AddDate(0, 0, -s.config.DefaultWindowDays), today)
	if err != nil {
		return err
	}

	body, readErr := io.ReadAll(c.Request().Body)
	if readErr != nil {
		return s.handleError(c, readErr, "failed to read request body", http.StatusBadRequest)
	}
	region, regionErr := parseRegion(body)
	if regionErr != nil {
		return s.handleError(c, regionErr, "invalid GeoJSON region", http.StatusBadRequest)
	}

	clientID := c.QueryParam("client_id")
	if clientID == "" {
		clientID = defaultClientID
	}

	s.pipeline.StartPipeline(region, clientID, start, end)

	s.logger.Info("region submitted",
		logger.String("client_id", clientID),
		logger.String("start_date", start.Format(DateLayout)),
		logger.String("end_date", end.Format(DateLayout)),
		logger.String("ip", c.RealIP()))

	return c.JSON(http.StatusAccepted, SubmissionResponse{
		Status:    "accepted",
		ClientID:  clientID,
		StartDate: start.Format(DateLayout),
		EndDate:   end.Format(DateLayout),
	})
}

// getShips returns detections of tiles acquired strictly inside the window
// as GeoJSON or CSV.
func (s *Server) getShips(c echo.Context) error {
	start, end, err := parseWindow(c, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	dataType := c.QueryParam("data_type")
	if dataType == "" {
		dataType = dataTypeGeoJSON
	}
	if dataType != dataTypeGeoJSON && dataType != dataTypeCSV {
		return s.handleError(c, nil,
			fmt.Sprintf("unknown data_type %q, expected %s or %s", dataType, dataTypeGeoJSON, dataTypeCSV),
			http.StatusBadRequest)
	}

	key := fmt.Sprintf("ships:%s:%s:%s", start.Format(DateLayout), end.Format(DateLayout), dataType)
	return s.cached(c, key, func() (*cachedBody, error) {
		dets, err := s.store.ListDetections(c.Request().Context(), start, end)
		if err != nil {
			return nil, err
		}
		if dataType == dataTypeCSV {
			var buf bytes.Buffer
			if err := detection.EncodeCSV(&buf, dets); err != nil {
				return nil, err
			}
			return &cachedBody{contentType: "text/csv; charset=utf-8", body: buf.Bytes()}, nil
		}
		return marshalBody(detection.DetectionsGeoJSON(dets))
	})
}

// getPorts returns the busiest ports as GeoJSON.
func (s *Server) getPorts(c echo.Context) error {
	number := s.config.DefaultPorts
	if raw := c.QueryParam("number"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return s.handleError(c, err, "number must be a positive integer", http.StatusBadRequest)
		}
		number = n
	}

	key := "ports:" + strconv.Itoa(number)
	return s.cached(c, key, func() (*cachedBody, error) {
		ports, err := s.store.ListTopPorts(c.Request().Context(), number)
		if err != nil {
			return nil, err
		}
		return marshalBody(detection.PortsGeoJSON(ports))
	})
}

// websocket upgrades the request and registers the connection under the
// client id from the path.
func (s *Server) websocket(c echo.Context) error {
	clientID := c.Param("client_id")

	ws, err := notification.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written an error response
		s.logger.Debug("websocket upgrade failed",
			logger.String("client_id", clientID),
			logger.Error(err))
		return nil
	}

	s.hub.Attach(ws, clientID)
	s.logger.Debug("websocket client connected",
		logger.String("client_id", clientID),
		logger.String("ip", c.RealIP()))
	return nil
}

// cached serves key from the query cache, rendering it with load on a miss.
func (s *Server) cached(c echo.Context, key string, load func() (*cachedBody, error)) error {
	path := c.Path()
	if s.queryCache != nil {
		if v, ok := s.queryCache.Get(key); ok {
			s.recordCacheLookup(path, true)
			hit := v.(*cachedBody)
			return c.Blob(http.StatusOK, hit.contentType, hit.body)
		}
		s.recordCacheLookup(path, false)
	}

	rendered, err := load()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.IsCategory(err, errors.CategoryValidation) {
			code = http.StatusBadRequest
		}
		return s.handleError(c, err, "failed to query the detection store", code)
	}

	if s.queryCache != nil {
		s.queryCache.SetDefault(key, rendered)
	}
	return c.Blob(http.StatusOK, rendered.contentType, rendered.body)
}

func (s *Server) recordCacheLookup(path string, hit bool) {
	if m := s.httpMetrics(); m != nil {
		m.RecordCacheLookup(path, hit)
	}
}

func marshalBody(v any) (*cachedBody, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &cachedBody{contentType: echo.MIMEApplicationJSON, body: b}, nil
}

// parseWindow reads start_date and end_date. A zero default makes the
// parameter required. Dates are calendar days at UTC midnight.
func parseWindow(c echo.Context, defStart, defEnd time.Time) (start, end time.Time, err error) {
	if start, err = parseDate(c, "start_date", defStart); err != nil {
		return
	}
	if end, err = parseDate(c, "end_date", defEnd); err != nil {
		return
	}
	if end.Before(start) {
		err = echo.NewHTTPError(http.StatusNotAcceptable, msgEndBeforeStart)
	}
	return
}

func parseDate(c echo.Context, name string, def time.Time) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		if def.IsZero() {
			return time.Time{}, echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("%s is required (%s)", name, DateLayout))
		}
		return def, nil
	}
	t, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("%s must be a date formatted as %s", name, DateLayout)).SetInternal(err)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
