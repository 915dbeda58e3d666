package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-cli/internal/pipeline"
	"github.com/sells-group/sales-cli/internal/refdata"
	"github.com/sells-group/sales-cli/internal/source"
	"github.com/sells-group/sales-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sales.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store.WithRetry(st, store.DefaultRetryPolicy()), nil
}

// loadReference loads the mapping tables from the configured workbook or
// CSV directory. A load or validation failure here is fatal to the whole
// run; transforming against partial mappings would silently misattribute
// revenue.
func loadReference() (refdata.Tables, *refdata.Resolver, error) {
	var tables refdata.Tables
	var err error
	if cfg.Reference.Workbook != "" {
		tables, err = refdata.LoadWorkbook(cfg.Reference.Workbook)
	} else {
		tables, err = refdata.LoadCSVDir(cfg.Reference.Dir)
	}
	if err != nil {
		return refdata.Tables{}, nil, err
	}

	resolver, err := refdata.NewResolver(tables)
	if err != nil {
		return refdata.Tables{}, nil, err
	}
	return tables, resolver, nil
}

// env bundles the wired subsystems a transform command needs.
type env struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initPipeline(ctx context.Context) (*env, error) {
	_, resolver, err := loadReference()
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &env{
		Store:    st,
		Pipeline: pipeline.New(cfg, st, source.NewRegistry(), resolver),
	}, nil
}
