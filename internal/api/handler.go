// Package api exposes the attendance pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"presensi/internal/attendance"
	"presensi/internal/auth"
)

// AttendanceService is the part of attendance.Service the handlers call.
type AttendanceService interface {
	Submit(ctx context.Context, req attendance.Request) (attendance.Result, error)
	Today(ctx context.Context, studentID string) ([]attendance.Record, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the attendance routes.
type Handler struct {
	svc    AttendanceService
	health map[string]HealthCheck
}

// NewHandler creates a Handler. health maps a dependency name to its probe.
func NewHandler(svc AttendanceService, health map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, health: health}
}

// Register mounts the routes. authn must set the student id for
// auth.StudentID; extra runs after it (rate limiting).
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc, extra ...gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", append([]gin.HandlerFunc{authn}, extra...)...)
	v1.POST("/attendance", h.submit)
	v1.GET("/attendance/today", h.today)
}

type submitRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,latitude"`
	Longitude *float64 `json:"longitude" binding:"required,longitude"`
	Image     string   `json:"image"`
	CourseID  string   `json:"course_id" binding:"omitempty,max=64"`
	Status    string   `json:"status" binding:"omitempty,oneof=hadir izin sakit"`
}

func (h *Handler) submit(c *gin.Context) {
	var body submitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": attendance.KindInvalidRequest, "message": err.Error()})
		return
	}

	status := attendance.Status(body.Status)
	if status == attendance.StatusPresent {
		status = ""
	}
	if !status.IsLeave() && strings.TrimSpace(body.Image) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": attendance.KindInvalidRequest, "message": "image is required"})
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), attendance.Request{
		StudentID: auth.StudentID(c),
		Lat:       *body.Latitude,
		Lon:       *body.Longitude,
		Image:     body.Image,
		CourseID:  body.CourseID,
		Status:    status,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	code := http.StatusCreated
	if res.Action == attendance.ActionCheckOut {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{
		"message":   res.Message,
		"course":    res.Course.Name,
		"course_id": res.Course.ID,
		"action":    res.Action,
		"record":    res.Record,
	})
}

func (h *Handler) today(c *gin.Context) {
	recs, err := h.svc.Today(c.Request.Context(), auth.StudentID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) healthz(c *gin.Context) {
	out := gin.H{}
	code := http.StatusOK
	for name, check := range h.health {
		ok := check(c.Request.Context())
		out[name] = ok
		if !ok {
			code = http.StatusServiceUnavailable
		}
	}
	out["status"] = "ok"
	if code != http.StatusOK {
		out["status"] = "degraded"
	}
	c.JSON(code, out)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindInvalidRequest:
		return http.StatusBadRequest
	case attendance.KindStudentNotFound:
		return http.StatusNotFound
	case attendance.KindDuplicateAttendance, attendance.KindAlreadyCheckedIn, attendance.KindCheckInMissing,
		attendance.KindAlreadyCheckedOut, attendance.KindSubmissionInProgress:
		return http.StatusConflict
	case attendance.KindNoCourseToday, attendance.KindNoCourseOpen, attendance.KindAmbiguousCourse,
		attendance.KindOutOfRange, attendance.KindNoFaceDetected, attendance.KindFaceMismatch,
		attendance.KindBiometricLength, attendance.KindInvalidImageFormat:
		return http.StatusUnprocessableEntity
	case attendance.KindProcessingTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var e *attendance.Error
	if !errors.As(err, &e) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": attendance.KindStorageFailure, "message": "internal error"})
		return
	}

	msg := e.Message
	if e.Kind.ServerSide() {
		msg = "the server could not complete the request, please try again"
	}
	body := gin.H{"error": e.Kind, "message": msg}
	if e.Distance != nil {
		body["distance"] = *e.Distance
	}
	if len(e.Candidates) > 0 {
		body["candidates"] = e.Candidates
	}
	c.JSON(StatusFor(e.Kind), body)
}
