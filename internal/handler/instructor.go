package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nkoval/studio-booking/internal/calendar"
	"github.com/nkoval/studio-booking/internal/model"
	"github.com/nkoval/studio-booking/internal/repository"
	"github.com/nkoval/studio-booking/internal/service"
)

// InstructorHandler serves the instructor-facing endpoints: schedule
// generation, session publishing and cancellation, rosters and credit
// packages.
type InstructorHandler struct {
	Slots    *repository.SlotRepo
	Sessions *repository.SessionRepo
	Schedule *service.ScheduleService
	Bookings *repository.BookingRepo
	Packages *repository.PackageRepo
	Calendar *calendar.Client
}

func NewInstructorHandler(slots *repository.SlotRepo, sessions *repository.SessionRepo, schedule *service.ScheduleService,
	bookings *repository.BookingRepo, packages *repository.PackageRepo, cal *calendar.Client) *InstructorHandler {
	return &InstructorHandler{Slots: slots, Sessions: sessions, Schedule: schedule, Bookings: bookings, Packages: packages, Calendar: cal}
}

// ----- DTOs -----

type slotPatternReq struct {
	Weekday   int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type generateSlotsReq struct {
	WeekStart string           `json:"week_start"` // YYYY-MM-DD
	Weeks     int              `json:"weeks"`
	Pattern   []slotPatternReq `json:"pattern"`
}

type createSessionReq struct {
	TimeSlotID  uint64 `json:"time_slot_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  uint32 `json:"price_cents"`
	IsDonation  bool   `json:"is_donation"`
	MaxCapacity uint32 `json:"max_capacity"`
	SkillLevel  string `json:"skill_level"`
}

type createPackageReq struct {
	Name       string `json:"name"`
	ClassCount uint32 `json:"class_count"`
	PriceCents uint32 `json:"price_cents"`
}

// GenerateSlots materializes the instructor's weekly pattern into
// concrete slots.  Safe to re-run: existing slots are untouched and the
// response reports only the newly created count.
func (h *InstructorHandler) GenerateSlots(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req generateSlotsReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	weekStart, err := time.Parse("2006-01-02", req.WeekStart)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "week_start must be YYYY-MM-DD"})
	}
	if req.Weeks <= 0 || req.Weeks > 52 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "weeks must be 1..52"})
	}
	pattern := make([]repository.SlotPattern, 0, len(req.Pattern))
	for _, p := range req.Pattern {
		if p.Weekday < 0 || p.Weekday > 6 || p.StartTime == "" || p.EndTime == "" || p.StartTime >= p.EndTime {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid pattern entry"})
		}
		pattern = append(pattern, repository.SlotPattern{
			Weekday:   time.Weekday(p.Weekday),
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
		})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	created, err := h.Slots.GenerateSlots(ctx, uid, weekStart, pattern, req.Weeks)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": created})
}

// ListSlots returns the instructor's slots in a date range.
func (h *InstructorHandler) ListSlots(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	from, to, err := dateRange(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	slots, err := h.Slots.ListByInstructor(ctx, uid, from, to)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, slots)
}

// ReleaseSlot returns a claimed slot to AVAILABLE.  Refused while a
// non-cancelled session still references the slot.
func (h *InstructorHandler) ReleaseSlot(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	slotID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Slots.Release(ctx, slotID, uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateSession publishes a class offering on one of the instructor's
// open slots.  Losing the slot race surfaces as 409.
func (h *InstructorHandler) CreateSession(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createSessionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	s := &model.Session{
		InstructorID: uid,
		TimeSlotID:   req.TimeSlotID,
		Title:        req.Title,
		Description:  req.Description,
		PriceCents:   req.PriceCents,
		IsDonation:   req.IsDonation,
		MaxCapacity:  req.MaxCapacity,
		SkillLevel:   req.SkillLevel,
	}
	if err := h.Schedule.Publish(ctx, s); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "time_slot_id, title and max_capacity required"})
		}
		return fail(c, err)
	}
	if slot, err := h.Slots.GetByID(ctx, s.TimeSlotID); err == nil {
		h.Calendar.PushSession(ctx, s.ID, s.Title, slot.StartsAt(), slot.EndsAt())
	}
	return c.JSON(http.StatusCreated, s)
}

// CancelSession cancels an offering, releases the slot and cancels
// every live booking in one shot.
func (h *InstructorHandler) CancelSession(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	s, err := h.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fail(c, err)
	}
	affected, err := h.Sessions.Cancel(ctx, sessionID, uid)
	if err != nil {
		return fail(c, err)
	}
	if slot, err := h.Slots.GetByID(ctx, s.TimeSlotID); err == nil {
		h.Calendar.CancelSession(ctx, s.ID, s.Title, slot.StartsAt(), slot.EndsAt())
	}
	return c.JSON(http.StatusOK, echo.Map{"cancelled_bookings": len(affected)})
}

// Roster lists every booking on one of the instructor's sessions.
func (h *InstructorHandler) Roster(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session id"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	roster, err := h.Bookings.RosterForSession(ctx, sessionID, uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, roster)
}

// CreatePackage defines a new credit bundle for sale.
func (h *InstructorHandler) CreatePackage(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createPackageReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.ClassCount == 0 || req.PriceCents == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name, class_count and price_cents required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	p := &model.Package{InstructorID: uid, Name: req.Name, ClassCount: req.ClassCount, PriceCents: req.PriceCents}
	if err := h.Packages.Create(ctx, p); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// ListPackages returns the instructor's packages.
func (h *InstructorHandler) ListPackages(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	packages, err := h.Packages.ListByInstructor(ctx, uid, false)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, packages)
}

// DeactivatePackage takes a package off sale.  Existing grants keep
// their credits.
func (h *InstructorHandler) DeactivatePackage(c echo.Context) error {
	uid, ok := currentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	packageID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid package id"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Packages.Deactivate(ctx, packageID, uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func pathID(c echo.Context, name string) (uint64, error) {
	return strconv.ParseUint(c.Param(name), 10, 64)
}

func dateRange(c echo.Context) (time.Time, time.Time, error) {
	from := time.Now().UTC()
	to := from.AddDate(0, 0, 28)
	var err error
	if v := c.QueryParam("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			return from, to, err
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
