package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sleepywoodpecker/arff-collector/internal/collector"
	"sleepywoodpecker/arff-collector/internal/dataset"
	"sleepywoodpecker/arff-collector/internal/persistence"
	"sleepywoodpecker/arff-collector/internal/processing"
)

// Server exposes the collector's dataset operations to a front end.
type Server struct {
	collector  *collector.Collector
	exportRoot string
	logger     *zap.Logger
}

type CreateDatasetRequest struct {
	Name string `json:"name" binding:"required"`
}

type SampleRequest struct {
	X      *float64 `json:"x" binding:"required"`
	Y      *float64 `json:"y" binding:"required"`
	Z      *float64 `json:"z" binding:"required"`
	Sensor string   `json:"sensor" binding:"required"`
	// Label overrides the selected label when set.
	Label *string `json:"label"`
}

type LabelRequest struct {
	Label string `json:"label"`
}

type RecordingRequest struct {
	Recording *bool `json:"recording" binding:"required"`
}

type DatasetResponse struct {
	Name      string   `json:"name"`
	ClearName string   `json:"clear_name"`
	Sensors   []string `json:"sensors"`
	Bytes     int64    `json:"bytes"`
	Content   string   `json:"content,omitempty"`
}

type SizeResponse struct {
	Name  string `json:"name"`
	KB    int64  `json:"kb"`
	Label string `json:"label"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	WorkerState string           `json:"worker_state"`
	Label       string           `json:"label"`
	Recording   bool             `json:"recording"`
	Queue       processing.Stats `json:"queue"`
	Timestamp   time.Time        `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewServer(c *collector.Collector, exportRoot string, logger *zap.Logger) *Server {
	return &Server{collector: c, exportRoot: exportRoot, logger: logger}
}

func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	v1 := r.Group("/api/v1")

	datasets := v1.Group("/datasets")
	{
		datasets.POST("", s.CreateDataset)
		datasets.GET("/current", s.CurrentDataset)
		datasets.GET("/current/size", s.SizeOfCurrent)
		datasets.POST("/current/export", s.ExportCurrent)
		datasets.DELETE("/current", s.DeleteCurrent)
	}

	v1.POST("/samples", s.IngestSample)
	v1.PUT("/label", s.SetLabel)
	v1.PUT("/recording", s.SetRecording)
	v1.GET("/monitoring/health", s.HealthCheck)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(
			"[api] request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) CreateDataset(c *gin.Context) {
	var req CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	d, err := s.collector.CreateDataset(req.Name)
	if err != nil {
		s.fail(c, "could not create dataset", err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Message: "dataset created", Data: toResponse(d, false)})
}

func (s *Server) CurrentDataset(c *gin.Context) {
	withContent := c.Query("content") == "true"
	c.JSON(http.StatusOK, toResponse(s.collector.CurrentDataset(), withContent))
}

func (s *Server) SizeOfCurrent(c *gin.Context) {
	name, kb, err := s.collector.SizeOfCurrent()
	if err != nil {
		s.fail(c, "could not read dataset size", err)
		return
	}
	c.JSON(http.StatusOK, SizeResponse{Name: name, KB: kb, Label: processing.FormatSize(kb)})
}

func (s *Server) ExportCurrent(c *gin.Context) {
	dest, err := s.collector.ExportCurrent(s.exportRoot)
	if err != nil {
		s.fail(c, "export failed", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "dataset exported", Data: gin.H{"destination": dest}})
}

func (s *Server) DeleteCurrent(c *gin.Context) {
	deleted, err := s.collector.DeleteCurrent()
	if err != nil {
		s.fail(c, "delete failed", err)
		return
	}
	msg := "dataset deleted"
	if !deleted {
		msg = "dataset could not be deleted"
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: msg, Data: gin.H{"deleted": deleted}})
}

func (s *Server) IngestSample(c *gin.Context) {
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	label := s.collector.Label()
	if req.Label != nil {
		label = dataset.Label(*req.Label)
	}

	err := s.collector.IngestSample(*req.X, *req.Y, *req.Z, label, dataset.SensorTag(req.Sensor))
	if err != nil {
		s.fail(c, "sample rejected", err)
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "sample queued"})
}

func (s *Server) SetLabel(c *gin.Context) {
	var req LabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	s.collector.SetLabel(dataset.Label(req.Label))
	c.JSON(http.StatusOK, SuccessResponse{Message: "label selected", Data: gin.H{"label": req.Label}})
}

func (s *Server) SetRecording(c *gin.Context) {
	var req RecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	msg := "recording stopped"
	if *req.Recording {
		s.collector.StartRecording()
		msg = "recording started"
	} else {
		s.collector.StopRecording()
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: msg, Data: gin.H{"recording": *req.Recording}})
}

func (s *Server) HealthCheck(c *gin.Context) {
	state := s.collector.WorkerState()
	status := "healthy"
	code := http.StatusOK
	if state != persistence.Bound {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:      status,
		WorkerState: state.String(),
		Label:       string(s.collector.Label()),
		Recording:   s.collector.Recording(),
		Queue:       s.collector.Stats(),
		Timestamp:   time.Now(),
	})
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("[api] "+msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(code, ErrorResponse{Error: msg, Details: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persistence.ErrInvalidName), errors.Is(err, collector.ErrSensorDisabled):
		return http.StatusBadRequest
	case errors.Is(err, persistence.ErrStorageUnavailable):
		return http.StatusInsufficientStorage
	case errors.Is(err, persistence.ErrNotAvailable), errors.Is(err, processing.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, collector.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, processing.ErrQueueOverflow):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func toResponse(d dataset.Dataset, withContent bool) DatasetResponse {
	sensors := make([]string, len(d.Sensors))
	for i, s := range d.Sensors {
		sensors[i] = string(s)
	}
	resp := DatasetResponse{
		Name:      d.Name,
		ClearName: d.ClearName(),
		Sensors:   sensors,
		Bytes:     d.Size,
	}
	if withContent {
		resp.Content = d.Content
	}
	return resp
}
