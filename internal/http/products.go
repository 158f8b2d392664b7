package http

import (
	"net/http"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	echo "github.com/labstack/echo/v4"
)

type productSettingsReq struct {
	Licensed          bool   `json:"licensed"`
	DeliveredQuantity int    `json:"delivered_quantity" validate:"gte=0,lte=1000"`
	UseStock          bool   `json:"use_stock"`
	UseGenerator      bool   `json:"use_generator"`
	GeneratorID       *int64 `json:"generator_id" validate:"omitempty,gt=0"`
}

type productSettingsView struct {
	ProductID         int64  `json:"product_id"`
	Licensed          bool   `json:"licensed"`
	DeliveredQuantity int    `json:"delivered_quantity"`
	UseStock          bool   `json:"use_stock"`
	UseGenerator      bool   `json:"use_generator"`
	GeneratorID       *int64 `json:"generator_id"`
}

func newProductSettingsView(p *model.ProductSettings) productSettingsView {
	return productSettingsView{
		ProductID:         p.ProductID,
		Licensed:          p.Licensed,
		DeliveredQuantity: p.PerUnit(),
		UseStock:          p.UseStock,
		UseGenerator:      p.UseGenerator,
		GeneratorID:       p.GeneratorID,
	}
}

func getProductSettingsHandler(products repository.ProductsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		p, err := products.Get(c.Request().Context(), nil, id)
		if err != nil {
			return err
		}
		if p == nil {
			p = &model.ProductSettings{ProductID: id}
		}
		return success(c, http.StatusOK, newProductSettingsView(p))
	}
}

func putProductSettingsHandler(products repository.ProductsRepository, gens *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		var req productSettingsReq
		if err := bind(c, &req); err != nil {
			return err
		}
		if req.UseGenerator {
			if req.GeneratorID == nil {
				return apperr.Invalid("generator_id is required when use_generator is set")
			}
			if _, err := gens.Get(c.Request().Context(), *req.GeneratorID); err != nil {
				return err
			}
		}

		p := &model.ProductSettings{
			ProductID:         id,
			Licensed:          req.Licensed,
			DeliveredQuantity: req.DeliveredQuantity,
			UseStock:          req.UseStock,
			UseGenerator:      req.UseGenerator,
			GeneratorID:       req.GeneratorID,
		}
		if err := products.Upsert(c.Request().Context(), p); err != nil {
			return err
		}
		return success(c, http.StatusOK, newProductSettingsView(p))
	}
}

func productStockHandler(svc *licenses.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		n, err := svc.Stock(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{"product_id": id, "stock": n})
	}
}
