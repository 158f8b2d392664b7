// Package app wires repositories and services for the CLI commands.
package app

import (
	"fmt"

	"github.com/jmehdipour/license-manager/internal/config"
	"github.com/jmehdipour/license-manager/internal/generator"
	"github.com/jmehdipour/license-manager/internal/keycrypt"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/apikeys"
	"github.com/jmehdipour/license-manager/internal/service/generators"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/jmehdipour/license-manager/internal/service/orders"
	"github.com/jmehdipour/license-manager/internal/service/transfer"
	"github.com/jmoiron/sqlx"
)

// Services is everything built on top of the MySQL store.
type Services struct {
	Licenses   *licenses.Service
	Generators *generators.Service
	APIKeys    *apikeys.Service
	Transfer   *transfer.Service
	Orders     *orders.Service
	Products   repository.ProductsRepository
}

// Repos groups the repositories Services are built from, so tests can pass
// in-memory versions.
type Repos struct {
	Tx          repository.Transactor
	Licenses    repository.LicensesRepository
	Activations repository.ActivationsRepository
	Meta        repository.LicenseMetaRepository
	Generators  repository.GeneratorsRepository
	APIKeys     repository.APIKeysRepository
	Products    repository.ProductsRepository
	Outbox      repository.OutboxRepository
}

func MySQLRepos(dbx *sqlx.DB) Repos {
	return Repos{
		Tx:          repository.NewTransactor(dbx),
		Licenses:    repository.NewLicensesRepository(dbx),
		Activations: repository.NewActivationsRepository(dbx),
		Meta:        repository.NewLicenseMetaRepository(dbx),
		Generators:  repository.NewGeneratorsRepository(dbx),
		APIKeys:     repository.NewAPIKeysRepository(dbx),
		Products:    repository.NewProductsRepository(dbx),
		Outbox:      repository.NewOutboxRepository(dbx),
	}
}

func Build(cfg config.Config, r Repos) (*Services, error) {
	crypt, err := keycrypt.New(cfg.Security.EncryptionSecret, cfg.Security.HashSecret)
	if err != nil {
		return nil, fmt.Errorf("key crypter: %w", err)
	}

	lic := licenses.New(r.Tx, r.Licenses, r.Activations, r.Meta, r.Outbox, crypt, licenses.Options{
		AllowDuplicates: cfg.Licenses.AllowDuplicates,
		EventsTopic:     cfg.Kafka.EventsTopic,
	})
	gens := generators.New(r.Generators, r.Licenses, lic,
		generator.NewStandard(cfg.Licenses.MaxRetriesPerKey), cfg.Licenses.MaxGenerateAmount)

	var revokeStatus model.LicenseStatus
	if cfg.Orders.RevokeStatus != "" {
		st, ok := model.ParseLicenseStatus(cfg.Orders.RevokeStatus)
		if !ok {
			return nil, fmt.Errorf("orders.revoke_status: unknown status %q", cfg.Orders.RevokeStatus)
		}
		revokeStatus = st
	}

	return &Services{
		Licenses:   lic,
		Generators: gens,
		APIKeys:    apikeys.New(r.APIKeys, crypt),
		Transfer:   transfer.New(lic, r.Licenses),
		Orders: orders.New(r.Tx, r.Licenses, r.Products, lic, gens, orders.Options{
			FulfillOn:    cfg.Orders.FulfillOn,
			RevokeOn:     cfg.Orders.RevokeOn,
			RevokeStatus: revokeStatus,
		}),
		Products: r.Products,
	}, nil
}
