package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"cognicity-rem/internal/cap"
	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/flood"
)

// Content types for CAP documents.
const (
	ContentTypeAtom = "application/atom+xml; charset=utf-8"
	ContentTypeCAP  = "application/cap+xml; charset=utf-8"
)

// Output formats accepted by GET /v1/rem/flooded.
const (
	FormatGeoJSON = "geojson"
	FormatCAP     = "cap"
)

// FloodHandler handles HTTP requests for flood states, counts and CAP alerts.
// Data responses are bare GeoJSON or XML so map and CAP clients can consume
// them directly; errors use the standard envelope.
type FloodHandler struct {
	service *flood.Service
	logger  *slog.Logger
}

// NewFloodHandler creates a new flood handler.
func NewFloodHandler(service *flood.Service, logger *slog.Logger) *FloodHandler {
	return &FloodHandler{
		service: service,
		logger:  logger,
	}
}

// stateRequest is the body of PUT /v1/rem/flooded/:id.
type stateRequest struct {
	State    *int   `json:"state"`
	Username string `json:"username"`
}

// Counts handles GET /v1/rem/counts
// Returns per-area report counts between start and end (unix seconds).
func (h *FloodHandler) Counts(c *fiber.Ctx) error {
	start, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		return ValidationError(c, domain.ErrInvalidStart.Error())
	}
	end, err := strconv.ParseInt(c.Query("end"), 10, 64)
	if err != nil {
		return ValidationError(c, domain.ErrInvalidEnd.Error())
	}

	fc, err := h.service.CountByArea(c.Context(), c.Query("level"), start, end)
	if err != nil {
		return h.handleError(c, err, "failed to count reports")
	}

	return c.JSON(fc)
}

// States handles GET /v1/rem/states
// Returns every area of the level with its current state.
func (h *FloodHandler) States(c *fiber.Ctx) error {
	fc, err := h.service.States(c.Context(), c.Query("level"))
	if err != nil {
		return h.handleError(c, err, "failed to read states")
	}

	return c.JSON(fc)
}

// Flooded handles GET /v1/rem/flooded
// Returns the flooded areas as GeoJSON, or as an ATOM feed of CAP alerts
// when format=cap.
func (h *FloodHandler) Flooded(c *fiber.Ctx) error {
	level := c.Query("level")

	switch c.Query("format", FormatGeoJSON) {
	case FormatGeoJSON:
		fc, err := h.service.Flooded(c.Context(), level)
		if err != nil {
			return h.handleError(c, err, "failed to read flooded areas")
		}
		return c.JSON(fc)

	case FormatCAP:
		feed, err := h.service.FloodedFeed(c.Context(), level)
		if err != nil {
			return h.handleError(c, err, "failed to build cap feed")
		}
		c.Set(fiber.HeaderContentType, ContentTypeAtom)
		return c.Send(feed)

	default:
		return BadRequest(c, "format must be 'geojson' or 'cap'")
	}
}

// AreaAlert handles GET /v1/rem/flooded/:id/cap
// Returns a standalone CAP alert for one area.
func (h *FloodHandler) AreaAlert(c *fiber.Ctx) error {
	id, err := parseAreaID(c)
	if err != nil {
		return ValidationError(c, err.Error())
	}

	doc, err := h.service.AreaAlert(c.Context(), c.Query("level"), id)
	if err != nil {
		return h.handleError(c, err, "failed to build cap alert")
	}

	c.Set(fiber.HeaderContentType, ContentTypeCAP)
	return c.Send(doc)
}

// Dims handles GET /v1/rem/dims
// Returns every area of the level with its latest DIMS level.
func (h *FloodHandler) Dims(c *fiber.Ctx) error {
	fc, err := h.service.Dims(c.Context(), c.Query("level"))
	if err != nil {
		return h.handleError(c, err, "failed to read dims")
	}

	return c.JSON(fc)
}

// SetState handles PUT /v1/rem/flooded/:id
// Records the state of an area and publishes the change for dispatch.
func (h *FloodHandler) SetState(c *fiber.Ctx) error {
	id, err := parseAreaID(c)
	if err != nil {
		return ValidationError(c, err.Error())
	}

	var req stateRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse state body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if req.State == nil {
		return ValidationError(c, domain.ErrInvalidState.Error())
	}

	change, err := h.service.SetState(c.Context(), domain.StateUpdate{
		AreaID:   id,
		State:    domain.FloodState(*req.State),
		Username: req.Username,
	})
	if err != nil {
		return h.handleError(c, err, "failed to set state")
	}

	return Success(c, change)
}

func parseAreaID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidAreaID
	}
	return id, nil
}

// handleError maps service errors to API responses.
func (h *FloodHandler) handleError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, flood.ErrUnknownLevel):
		return BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrAreaNotFound):
		return NotFound(c, "area not found")
	case isValidationError(err):
		return ValidationError(c, err.Error())
	case isConversionError(err):
		return Unprocessable(c, err.Error())
	}

	h.logger.Error(message, "error", err, "path", c.Path())
	return InternalError(c, message)
}

func isValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidStart,
		domain.ErrInvalidEnd,
		domain.ErrInvalidRange,
		domain.ErrInvalidAreaID,
		domain.ErrInvalidState,
		domain.ErrEmptyUsername,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isConversionError(err error) bool {
	return errors.Is(err, cap.ErrUnsupportedGeometryType) ||
		errors.Is(err, cap.ErrUnsupportedInteriorRing) ||
		errors.Is(err, cap.ErrUnmappedSeverityState) ||
		errors.Is(err, cap.ErrInvalidFeature)
}
