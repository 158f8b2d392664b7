package http

import (
	"net/http"

	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	echo "github.com/labstack/echo/v4"
)

type generatorReq struct {
	Name             string `json:"name" validate:"required,max=255"`
	Charset          string `json:"charset" validate:"required,max=255"`
	Chunks           int    `json:"chunks" validate:"required,gte=1,lte=64"`
	ChunkLength      int    `json:"chunk_length" validate:"required,gte=1,lte=128"`
	Separator        string `json:"separator" validate:"max=16"`
	Prefix           string `json:"prefix" validate:"max=255"`
	Suffix           string `json:"suffix" validate:"max=255"`
	ExpiresIn        *int   `json:"expires_in" validate:"omitempty,gte=0"`
	ActivationsLimit *int   `json:"activations_limit" validate:"omitempty,gte=0"`
}

func (r generatorReq) model() model.Generator {
	return model.Generator{
		Name:             r.Name,
		Charset:          r.Charset,
		Chunks:           r.Chunks,
		ChunkLength:      r.ChunkLength,
		Separator:        r.Separator,
		Prefix:           r.Prefix,
		Suffix:           r.Suffix,
		ExpiresIn:        r.ExpiresIn,
		ActivationsLimit: r.ActivationsLimit,
	}
}

type generatorView struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Charset          string `json:"charset"`
	Chunks           int    `json:"chunks"`
	ChunkLength      int    `json:"chunk_length"`
	Separator        string `json:"separator"`
	Prefix           string `json:"prefix"`
	Suffix           string `json:"suffix"`
	ExpiresIn        *int   `json:"expires_in"`
	ActivationsLimit *int   `json:"activations_limit"`
}

func newGeneratorView(g *model.Generator) generatorView {
	return generatorView{
		ID:               g.ID,
		Name:             g.Name,
		Charset:          g.Charset,
		Chunks:           g.Chunks,
		ChunkLength:      g.ChunkLength,
		Separator:        g.Separator,
		Prefix:           g.Prefix,
		Suffix:           g.Suffix,
		ExpiresIn:        g.ExpiresIn,
		ActivationsLimit: g.ActivationsLimit,
	}
}

type generateReq struct {
	Amount    int    `json:"amount" validate:"required,gte=1"`
	Save      bool   `json:"save"`
	Status    string `json:"status" validate:"omitempty,oneof=sold delivered active inactive disabled"`
	OrderID   *int64 `json:"order_id" validate:"omitempty,gt=0"`
	ProductID *int64 `json:"product_id" validate:"omitempty,gt=0"`
	UserID    *int64 `json:"user_id" validate:"omitempty,gt=0"`
}

func listGeneratorsHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := page(c)
		rows, err := svc.List(c.Request().Context(), limit, offset)
		if err != nil {
			return err
		}
		out := make([]generatorView, 0, len(rows))
		for i := range rows {
			out = append(out, newGeneratorView(&rows[i]))
		}
		return success(c, http.StatusOK, out)
	}
}

func getGeneratorHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		g, err := svc.Get(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, newGeneratorView(g))
	}
}

func createGeneratorHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req generatorReq
		if err := bind(c, &req); err != nil {
			return err
		}
		g, err := svc.Create(c.Request().Context(), req.model())
		if err != nil {
			return err
		}
		return success(c, http.StatusCreated, newGeneratorView(g))
	}
}

func updateGeneratorHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		var req generatorReq
		if err := bind(c, &req); err != nil {
			return err
		}
		g, err := svc.Update(c.Request().Context(), id, req.model())
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, newGeneratorView(g))
	}
}

func deleteGeneratorHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.Delete(c.Request().Context(), id); err != nil {
			return err
		}
		return success(c, http.StatusOK, map[string]any{"deleted": true})
	}
}

func generateLicensesHandler(svc *generators.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c, "id")
		if err != nil {
			return err
		}
		var req generateReq
		if err := bind(c, &req); err != nil {
			return err
		}
		res, err := svc.Generate(c.Request().Context(), id, generators.GenerateOptions{
			Amount:    req.Amount,
			Save:      req.Save,
			Status:    model.LicenseStatus(req.Status),
			OrderID:   req.OrderID,
			ProductID: req.ProductID,
			UserID:    req.UserID,
			CreatedBy: apiKeyUserID(c),
		})
		if err != nil {
			return err
		}
		return success(c, http.StatusOK, res)
	}
}
