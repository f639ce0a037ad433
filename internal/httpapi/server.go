package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"skywatch.live/sentinel/internal/db"
	"skywatch.live/sentinel/internal/engine"
	"skywatch.live/sentinel/internal/globaltime"
	payloadschema "skywatch.live/sentinel/schema"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxPayloadBytes  = 1 << 20
)

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	resolver *engine.Resolver
	store    *db.IncidentStore
	logger   zerolog.Logger
	opts     Options
}

type sourceItem struct {
	URL         string    `json:"url"`
	TrustWeight int       `json:"trust_weight"`
	Publisher   string    `json:"publisher,omitempty"`
	Quote       *string   `json:"quote,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

type incidentItem struct {
	IncidentUUID  string       `json:"incident_uuid"`
	Title         string       `json:"title"`
	Narrative     string       `json:"narrative,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Category      string       `json:"category"`
	EvidenceScore int          `json:"evidence_score"`
	Language      string       `json:"language,omitempty"`
	FirstSeenAt   time.Time    `json:"first_seen_at"`
	LastSeenAt    time.Time    `json:"last_seen_at"`
	Sources       []sourceItem `json:"sources"`
}

type resolutionEventItem struct {
	SourceURL       string    `json:"source_url"`
	Decision        string    `json:"decision"`
	Tier            string    `json:"tier"`
	BestCandidateID *int64    `json:"best_candidate_id,omitempty"`
	Similarity      *float64  `json:"similarity,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type incidentDetail struct {
	Incident incidentItem          `json:"incident"`
	Events   []resolutionEventItem `json:"events"`
}

type resolutionResponse struct {
	Decision      string   `json:"decision"`
	Tier          string   `json:"tier"`
	IncidentUUID  string   `json:"incident_uuid"`
	EvidenceScore int      `json:"evidence_score"`
	Similarity    *float64 `json:"similarity,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

type feedbackRequest struct {
	IncidentA   int64   `json:"incident_a"`
	IncidentB   int64   `json:"incident_b"`
	Tier        string  `json:"tier"`
	Decision    string  `json:"decision"`
	CorrectedTo string  `json:"corrected_to"`
	Note        *string `json:"note,omitempty"`
}

func NewServer(resolver *engine.Resolver, store *db.IncidentStore, logger zerolog.Logger, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = ":8080"
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		resolver: resolver,
		store:    store,
		logger:   logger,
		opts: Options{
			Addr:            addr,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.resolver == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxPayloadBytes)))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/candidates", s.handleResolveCandidate)
	api.GET("/incidents", s.handleIncidents)
	api.GET("/incidents/:incident_uuid", s.handleIncidentDetail)
	api.GET("/stats", s.handleStats)
	api.POST("/feedback", s.handleFeedback)

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("sentinel api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("sentinel api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "sentinel",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleResolveCandidate(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}

	report, err := payloadschema.ValidateCandidatePayload(json.RawMessage(body))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	candidate, err := report.ToCandidate()
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	resolution, err := s.resolver.Resolve(c.Request().Context(), candidate)
	if err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			return failValidation(c, map[string]string{ve.Field: ve.Reason})
		}
		if engine.IsStorage(err) {
			s.logger.Error().Err(err).Msg("resolve candidate failed on storage")
			return fail(c, http.StatusServiceUnavailable, "Storage unavailable, retry later", nil)
		}
		s.logger.Error().Err(err).Msg("resolve candidate failed")
		return internalError(c, "Failed to resolve candidate")
	}

	status := http.StatusOK
	if resolution.Decision == engine.DecisionCreated {
		status = http.StatusCreated
	}
	return successWithStatus(c, status, resolutionResponse{
		Decision:      string(resolution.Decision),
		Tier:          string(resolution.Tier),
		IncidentUUID:  resolution.IncidentUUID,
		EvidenceScore: resolution.EvidenceScore,
		Similarity:    resolution.Similarity,
		Confidence:    resolution.Confidence,
	})
}

func (s *Server) handleIncidents(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultListLimit, 1, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}
	minScore, err := parsePositiveInt(c.QueryParam("min_score"), 0, 0, 4)
	if err != nil {
		return failValidation(c, map[string]string{"min_score": err.Error()})
	}

	from, err := parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}
	if from != nil && to != nil && from.After(*to) {
		return failValidation(c, map[string]string{"time_range": "from must be <= to"})
	}

	filter := db.IncidentFilter{
		Category: strings.TrimSpace(strings.ToLower(c.QueryParam("category"))),
		MinScore: minScore,
		Limit:    limit,
		Offset:   offset,
	}
	if from != nil {
		filter.From = *from
	}
	if to != nil {
		filter.To = *to
	}

	incidents, err := s.store.ListIncidents(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list incidents failed")
		return internalError(c, "Failed to load incidents")
	}

	items := make([]incidentItem, 0, len(incidents))
	for _, incident := range incidents {
		items = append(items, toIncidentItem(incident))
	}
	return success(c, map[string]any{
		"items": items,
		"filters": map[string]any{
			"category":  filter.Category,
			"min_score": filter.MinScore,
			"from":      from,
			"to":        to,
		},
	})
}

func (s *Server) handleIncidentDetail(c echo.Context) error {
	incidentUUID := strings.TrimSpace(c.Param("incident_uuid"))
	if incidentUUID == "" {
		return failValidation(c, map[string]string{"incident_uuid": "is required"})
	}

	incident, err := s.store.GetIncidentByUUID(c.Request().Context(), incidentUUID)
	if err != nil {
		s.logger.Error().Err(err).Str("incident_uuid", incidentUUID).Msg("query incident detail failed")
		return internalError(c, "Failed to load incident")
	}
	if incident == nil {
		return failNotFound(c, "Incident not found")
	}

	events, err := s.store.ListResolutionEvents(c.Request().Context(), incident.ID, 100)
	if err != nil {
		s.logger.Error().Err(err).Int64("incident_id", incident.ID).Msg("query resolution events failed")
		return internalError(c, "Failed to load incident history")
	}

	eventItems := make([]resolutionEventItem, 0, len(events))
	for _, event := range events {
		eventItems = append(eventItems, resolutionEventItem{
			SourceURL:       event.SourceURL,
			Decision:        string(event.Decision),
			Tier:            string(event.Tier),
			BestCandidateID: event.BestCandidateID,
			Similarity:      event.Similarity,
			Confidence:      event.Confidence,
			CreatedAt:       event.CreatedAt,
		})
	}

	return success(c, incidentDetail{
		Incident: toIncidentItem(incident),
		Events:   eventItems,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}

	record := engine.FeedbackRecord{
		IncidentA:   req.IncidentA,
		IncidentB:   req.IncidentB,
		Tier:        engine.Tier(req.Tier),
		Decision:    engine.Decision(req.Decision),
		CorrectedTo: engine.Decision(req.CorrectedTo),
		Note:        req.Note,
	}

	if err := engine.RecordFeedback(c.Request().Context(), s.store, record); err != nil {
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			return failValidation(c, map[string]string{ve.Field: ve.Reason})
		}
		s.logger.Error().Err(err).Msg("record feedback failed")
		return internalError(c, "Failed to record feedback")
	}

	return successWithStatus(c, http.StatusCreated, map[string]any{
		"recorded": true,
	})
}

func toIncidentItem(incident *engine.Incident) incidentItem {
	sources := make([]sourceItem, 0, len(incident.Sources))
	for _, source := range incident.Sources {
		sources = append(sources, sourceItem{
			URL:         source.URL,
			TrustWeight: source.TrustWeight,
			Publisher:   source.Publisher,
			Quote:       source.Quote,
			AddedAt:     source.AddedAt,
		})
	}
	return incidentItem{
		IncidentUUID:  incident.UUID,
		Title:         incident.Title,
		Narrative:     incident.Narrative,
		OccurredAt:    incident.OccurredAt,
		Latitude:      incident.Latitude,
		Longitude:     incident.Longitude,
		Category:      incident.Category,
		EvidenceScore: incident.EvidenceScore,
		Language:      incident.Language,
		FirstSeenAt:   incident.FirstSeenAt,
		LastSeenAt:    incident.LastSeenAt,
		Sources:       sources,
	}
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}

	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		if endOfDay {
			utc = utc.Add((24 * time.Hour) - time.Nanosecond)
		}
		return &utc, nil
	}

	return nil, fmt.Errorf("invalid time format")
}
