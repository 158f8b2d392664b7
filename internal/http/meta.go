package http

import (
	"net/http"

	"github.com/jmehdipour/license-manager/internal/service/licenses"
	echo "github.com/labstack/echo/v4"
)

type metaReq struct {
	Key   string `json:"meta_key" validate:"required,max=255"`
	Value string `json:"meta_value"`
}

type metaValueReq struct {
	Value string `json:"meta_value"`
}

func licenseIDByKey(c echo.Context, svc *licenses.Service) (int64, error) {
	v, err := svc.FindByKey(c.Request().Context(), c.Param("key"))
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

func getMetaHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := licenseIDByKey(c, svc)
		if err != nil {
			return err
		}
		rows, err := svc.GetMeta(c.Request().Context(), id, c.Param("meta_key"))
		if err != nil {
			return err
		}
		values := make([]string, 0, len(rows))
		for _, m := range rows {
			values = append(values, m.MetaValue)
		}
		return success(c, http.StatusOK, map[string]any{"meta_key": c.Param("meta_key"), "values": values})
	}
}

func addMetaHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req metaReq
		if err := bind(c, &req); err != nil {
			return err
		}
		id, err := licenseIDByKey(c, svc)
		if err != nil {
			return err
		}
		m, err := svc.AddMeta(c.Request().Context(), id, req.Key, req.Value)
		if err != nil {
			return err
		}
		return success(c, http.StatusCreated, map[string]any{
			"meta_id":    m.ID,
			"meta_key":   m.MetaKey,
			"meta_value": m.MetaValue,
		})
	}
}

func updateMetaHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req metaValueReq
		if err := bind(c, &req); err != nil {
			return err
		}
		id, err := licenseIDByKey(c, svc)
		if err != nil {
			return err
		}
		if err := svc.UpdateMeta(c.Request().Context(), id, c.Param("meta_key"), req.Value); err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{"meta_key": c.Param("meta_key"), "meta_value": req.Value})
	}
}

func deleteMetaHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := licenseIDByKey(c, svc)
		if err != nil {
			return err
		}
		n, err := svc.DeleteMeta(c.Request().Context(), id, c.Param("meta_key"))
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{"deleted": n})
	}
}
