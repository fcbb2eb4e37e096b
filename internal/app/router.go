package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-scm/meridian-scm/internal/audit"
	"github.com/meridian-scm/meridian-scm/internal/auth"
	"github.com/meridian-scm/meridian-scm/internal/damagereturn"
	"github.com/meridian-scm/meridian-scm/internal/ledger"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/categories"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/locations"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/products"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/suppliers"
	"github.com/meridian-scm/meridian-scm/internal/masterdata/units"
	"github.com/meridian-scm/meridian-scm/internal/observability"
	"github.com/meridian-scm/meridian-scm/internal/procurement"
	"github.com/meridian-scm/meridian-scm/internal/rbac"
	"github.com/meridian-scm/meridian-scm/internal/replacement"
	"github.com/meridian-scm/meridian-scm/internal/shared"
	"github.com/meridian-scm/meridian-scm/internal/stockrequest"
	"github.com/meridian-scm/meridian-scm/internal/transfer"
	"github.com/meridian-scm/meridian-scm/internal/usage"
	"github.com/meridian-scm/meridian-scm/internal/users"
	"github.com/meridian-scm/meridian-scm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	AuthHandler  *auth.Handler
	UsersHandler *users.Handler
	RBACHandler  *rbac.Handler

	CategoriesHandler *categories.Handler
	LocationsHandler  *locations.Handler
	ProductsHandler   *products.Handler
	SuppliersHandler  *suppliers.Handler
	UnitsHandler      *units.Handler

	LedgerHandler       *ledger.Handler
	TransferHandler     *transfer.Handler
	StockRequestHandler *stockrequest.Handler
	UsageHandler        *usage.Handler
	DamageReturnHandler *damagereturn.Handler
	ReplacementHandler  *replacement.Handler
	ProcurementHandler  *procurement.Handler

	AuditHandler *audit.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.RBACHandler != nil {
		r.Route("/admin", params.RBACHandler.MountRoutes)
	}

	r.Route("/masterdata", func(r chi.Router) {
		if params.CategoriesHandler != nil {
			r.Route("/categories", params.CategoriesHandler.MountRoutes)
		}
		if params.LocationsHandler != nil {
			r.Route("/locations", params.LocationsHandler.MountRoutes)
		}
		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.SuppliersHandler != nil {
			r.Route("/suppliers", params.SuppliersHandler.MountRoutes)
		}
		if params.UnitsHandler != nil {
			r.Route("/units", params.UnitsHandler.MountRoutes)
		}
	})

	r.Route("/stocks", params.LedgerHandler.MountRoutes)
	r.Route("/transfers", params.TransferHandler.MountRoutes)
	r.Route("/stock-requests", params.StockRequestHandler.MountRoutes)
	r.Route("/usages", params.UsageHandler.MountRoutes)
	r.Route("/damage-returns", params.DamageReturnHandler.MountRoutes)
	if params.ReplacementHandler != nil {
		r.Route("/replacements", params.ReplacementHandler.MountRoutes)
	}
	r.Route("/procurement", params.ProcurementHandler.MountRoutes)

	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
