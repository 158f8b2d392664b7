package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/http/middleware"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/transfer"
	echo "github.com/labstack/echo/v4"
)

// success wraps payloads as {"success": true, "data": ...}.
func success(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"success": true, "data": data})
}

type createLicenseReq struct {
	LicenseKey       string `json:"license_key" validate:"required,max=255"`
	OrderID          *int64 `json:"order_id" validate:"omitempty,gt=0"`
	ProductID        *int64 `json:"product_id" validate:"omitempty,gt=0"`
	UserID           *int64 `json:"user_id" validate:"omitempty,gt=0"`
	ExpiresAt        string `json:"expires_at"`
	ValidFor         *int   `json:"valid_for" validate:"omitempty,gte=0"`
	Status           string `json:"status" validate:"omitempty,oneof=sold delivered active inactive disabled"`
	ActivationsLimit *int   `json:"activations_limit" validate:"omitempty,gte=0"`
}

type updateLicenseReq struct {
	LicenseKey       *string `json:"license_key" validate:"omitempty,min=1,max=255"`
	OrderID          *int64  `json:"order_id" validate:"omitempty,gt=0"`
	ProductID        *int64  `json:"product_id" validate:"omitempty,gt=0"`
	UserID           *int64  `json:"user_id" validate:"omitempty,gt=0"`
	ExpiresAt        *string `json:"expires_at"`
	ValidFor         *int    `json:"valid_for" validate:"omitempty,gte=0"`
	Status           *string `json:"status" validate:"omitempty,oneof=sold delivered active inactive disabled"`
	ActivationsLimit *int    `json:"activations_limit" validate:"omitempty,gte=0"`
}

// activationView is the JSON shape of an activation.
type activationView struct {
	ID            int64      `json:"id"`
	LicenseID     int64      `json:"license_id"`
	Token         string     `json:"token"`
	Label         *string    `json:"label"`
	Source        string     `json:"source"`
	IPAddress     *string    `json:"ip_address"`
	UserAgent     *string    `json:"user_agent"`
	MetaData      *string    `json:"meta_data"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
}

func newActivationView(a *model.LicenseActivation) activationView {
	return activationView{
		ID:            a.ID,
		LicenseID:     a.LicenseID,
		Token:         a.Token,
		Label:         a.Label,
		Source:        string(a.Source),
		IPAddress:     a.IPAddress,
		UserAgent:     a.UserAgent,
		MetaData:      a.MetaData,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		DeactivatedAt: a.DeactivatedAt,
	}
}

func apiKeyUserID(c echo.Context) *int64 {
	if k, ok := middleware.APIKeyFromCtx(c); ok && k.UserID > 0 {
		id := k.UserID
		return &id
	}
	return nil
}

func listLicensesHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := model.LicenseFilter{}
		f.Limit, f.Offset = page(c)

		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st, ok := model.ParseLicenseStatus(raw)
			if !ok {
				return apperr.Invalid("unknown license status %q", raw)
			}
			f.Status = st
		}
		if raw := strings.TrimSpace(c.QueryParam("source")); raw != "" {
			src := model.LicenseSource(raw)
			if !src.Valid() {
				return apperr.Invalid("unknown license source %q", raw)
			}
			f.Source = src
		}
		var err error
		if f.OrderID, err = queryInt64(c, "order_id"); err != nil {
			return err
		}
		if f.ProductID, err = queryInt64(c, "product_id"); err != nil {
			return err
		}
		if f.UserID, err = queryInt64(c, "user_id"); err != nil {
			return err
		}

		views, err := svc.List(c.Request().Context(), f)
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, views)
	}
}

func getLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, err := svc.FindByKey(c.Request().Context(), c.Param("key"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, v)
	}
}

func createLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createLicenseReq
		if err := bind(c, &req); err != nil {
			return err
		}
		expiresAt, err := parseTime("expires_at", req.ExpiresAt)
		if err != nil {
			return err
		}

		v, err := svc.Create(c.Request().Context(), licenses.CreateInput{
			Key:              req.LicenseKey,
			OrderID:          req.OrderID,
			ProductID:        req.ProductID,
			UserID:           req.UserID,
			ExpiresAt:        expiresAt,
			ValidFor:         req.ValidFor,
			Status:           model.LicenseStatus(req.Status),
			Source:           model.SourceAPI,
			ActivationsLimit: req.ActivationsLimit,
			CreatedBy:        apiKeyUserID(c),
		})
		if err != nil {
			return err
		}
		return success(c, http.StatusCreated, v)
	}
}

func updateLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateLicenseReq
		if err := bind(c, &req); err != nil {
			return err
		}

		in := licenses.UpdateInput{
			Key:              req.LicenseKey,
			OrderID:          req.OrderID,
			ProductID:        req.ProductID,
			UserID:           req.UserID,
			ValidFor:         req.ValidFor,
			ActivationsLimit: req.ActivationsLimit,
			UpdatedBy:        apiKeyUserID(c),
		}
		if req.ExpiresAt != nil {
			t, err := parseTime("expires_at", *req.ExpiresAt)
			if err != nil {
				return err
			}
			in.ExpiresAt = t
		}
		if req.Status != nil {
			st := model.LicenseStatus(*req.Status)
			in.Status = &st
		}

		v, err := svc.Update(c.Request().Context(), c.Param("key"), in)
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, v)
	}
}

func deleteLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteByKey(c.Request().Context(), c.Param("key")); err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{"deleted": true})
	}
}

func activateLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := licenses.ActivateParams{
			Label:     c.QueryParam("label"),
			Source:    model.ActivationAPI,
			IPAddress: c.RealIP(),
			UserAgent: c.Request().UserAgent(),
		}
		if raw := c.QueryParam("meta"); raw != "" {
			meta, err := parseMeta(raw)
			if err != nil {
				return err
			}
			p.Meta = meta
		}

		act, err := svc.Activate(c.Request().Context(), c.Param("key"), p)
		if err != nil {
			return err
		}
		v, err := svc.FindByKey(c.Request().Context(), c.Param("key"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{
			"license":    v,
			"activation": newActivationView(act),
		})
	}
}

func deactivateLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		act, err := svc.Deactivate(c.Request().Context(), c.Param("token"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, newActivationView(act))
	}
}

func reactivateLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		act, err := svc.Reactivate(c.Request().Context(), c.Param("token"), c.QueryParam("license_key"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, newActivationView(act))
	}
}

func validateLicenseHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := svc.Validate(c.Request().Context(), c.Param("key"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, res)
	}
}

func listActivationsHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		acts, err := svc.Activations(c.Request().Context(), c.Param("key"))
		if err != nil {
			return err
		}
		out := make([]activationView, 0, len(acts))
		for i := range acts {
			out = append(out, newActivationView(&acts[i]))
		}
		return success(c, http.StatusOK, out)
	}
}

type importLicensesReq struct {
	Status           string `query:"status" validate:"omitempty,oneof=sold delivered active inactive disabled"`
	ProductID        *int64 `query:"product_id" validate:"omitempty,gt=0"`
	OrderID          *int64 `query:"order_id" validate:"omitempty,gt=0"`
	ValidFor         *int   `query:"valid_for" validate:"omitempty,gte=0"`
	ActivationsLimit *int   `query:"activations_limit" validate:"omitempty,gte=0"`
}

// importLicensesHandler accepts a multipart "file" upload (csv, txt or xlsx).
func importLicensesHandler(svc *transfer.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req importLicensesReq
		if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
			return apperr.Invalid("malformed query parameters")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return apperr.Invalid("file is required")
		}
		format, err := transfer.ParseFormat(fh.Filename)
		if err != nil {
			return err
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()

		res, err := svc.Import(c.Request().Context(), f, format, transfer.ImportOptions{
			Status:           model.LicenseStatus(req.Status),
			OrderID:          req.OrderID,
			ProductID:        req.ProductID,
			ValidFor:         req.ValidFor,
			ActivationsLimit: req.ActivationsLimit,
			CreatedBy:        apiKeyUserID(c),
		})
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, res)
	}
}

// exportLicensesHandler streams ?ids=1,2&format=csv|xlsx&columns=a,b.
func exportLicensesHandler(svc *transfer.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		ids, err := idList(c.QueryParam("ids"))
		if err != nil {
			return err
		}
		rawFormat := c.QueryParam("format")
		if rawFormat == "" {
			rawFormat = string(transfer.FormatCSV)
		}
		format, err := transfer.ParseFormat(rawFormat)
		if err != nil {
			return err
		}
		var columns []string
		if raw := strings.TrimSpace(c.QueryParam("columns")); raw != "" {
			for _, col := range strings.Split(raw, ",") {
				columns = append(columns, strings.TrimSpace(col))
			}
		}

		var buf bytes.Buffer
		if _, err := svc.Export(c.Request().Context(), &buf, ids, format, columns); err != nil {
			return err
		}

		contentType := "text/csv"
		if format == transfer.FormatXLSX {
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=licenses-%s.%s", time.Now().UTC().Format("20060102-150405"), format))
		return c.Blob(http.StatusOK, contentType, buf.Bytes())
	}
}
