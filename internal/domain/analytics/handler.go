package analytics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the reports under /analytics. Admins see everything;
// doctors only see their own records.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/analytics")

	g.GET("/dashboard", h.Dashboard, auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	g.GET("/trends", h.Trends, auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	g.GET("/revenue", h.Revenue, auth.RequireRole(auth.RoleReceptionist))
	g.GET("/conditions", h.Conditions, auth.RequireRole(auth.RoleDoctor))
	g.GET("/medicines", h.Medicines, auth.RequireRole(auth.RoleDoctor))
	g.GET("/doctors", h.Doctors, auth.RequireRole(auth.RoleAdmin))
	g.GET("/receptionists", h.Receptionists, auth.RequireRole(auth.RoleAdmin))
}

// query reads range and branch and pins doctor callers to their own
// records.
func query(c echo.Context) (Query, error) {
	rng, err := ParseTimeRange(c.QueryParam("range"))
	if err != nil {
		return Query{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q := Query{Range: rng, BranchID: c.QueryParam("branch")}

	id, _ := auth.IdentityFromContext(c.Request().Context())
	if id.HasRole(auth.RoleDoctor) && !id.IsAdmin() && !id.HasRole(auth.RoleReceptionist) {
		if id.DoctorID == "" {
			return Query{}, echo.NewHTTPError(http.StatusForbidden, "account is not linked to a doctor")
		}
		q.DoctorID = id.DoctorID
	}
	return q, nil
}

func topN(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("top")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 50 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "top must be between 1 and 50")
	}
	return n, nil
}

func failed() error {
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute report")
}

func (h *Handler) Dashboard(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Dashboard(c.Request().Context(), q)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Trends(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Trends(c.Request().Context(), q)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Revenue(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Revenue(c.Request().Context(), q)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Conditions(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	n, err := topN(c, PieChartTopN)
	if err != nil {
		return err
	}
	out, err := h.svc.Conditions(c.Request().Context(), q, n)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Medicines(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	n, err := topN(c, SummaryTopN)
	if err != nil {
		return err
	}
	out, err := h.svc.Medicines(c.Request().Context(), q, n)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Doctors(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Doctors(c.Request().Context(), q)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Receptionists(c echo.Context) error {
	q, err := query(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Receptionists(c.Request().Context(), q)
	if err != nil {
		return failed()
	}
	return c.JSON(http.StatusOK, out)
}
