package web

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/dukex/tokenflow/pkg/engine"
	"github.com/dukex/tokenflow/pkg/persistence"
	"github.com/dukex/tokenflow/pkg/version"
)

// API is the HTTP server over one engine.
type API struct {
	handlers *APIHandlers
}

func NewAPI(eng *engine.Engine, store persistence.Persistence, versions *version.Manager) *API {
	validate := validator.New(validator.WithRequiredStructEnabled())

	return &API{
		handlers: NewAPIHandlers(eng, store, versions, validate),
	}
}

// App builds the fiber application with every route mounted.
func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tokenflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", a.handlers.GetWorkflows)
	w.Post("/", a.handlers.CreateWorkflow)
	w.Get("/:id", a.handlers.GetWorkflow)
	w.Delete("/:id", a.handlers.DeleteWorkflow)
	w.Post("/:id/start", a.handlers.StartWorkflow)

	v := w.Group("/:id/versions")
	v.Get("/", a.handlers.ListVersions)
	v.Post("/", a.handlers.CreateVersion)
	v.Get("/compare", a.handlers.CompareVersions)
	v.Get("/default", a.handlers.GetDefaultVersion)
	v.Get("/:number", a.handlers.GetVersion)
	v.Delete("/:number", a.handlers.DeleteVersion)
	v.Post("/:number/default", a.handlers.SetDefaultVersion)
	v.Post("/:number/publish", a.handlers.PublishVersion)
	v.Post("/:number/deprecate", a.handlers.DeprecateVersion)
	v.Post("/:number/archive", a.handlers.ArchiveVersion)

	i := app.Group("/instances")
	i.Get("/", a.handlers.ListInstances)
	i.Get("/:id", a.handlers.GetInstance)
	i.Post("/:id/complete-task", a.handlers.CompleteTask)
	i.Post("/:id/recover", a.handlers.RecoverInstance)
	i.Get("/:id/snapshots", a.handlers.ListSnapshots)
	i.Post("/:id/snapshots", a.handlers.CreateSnapshot)
	i.Post("/:id/transactions", a.handlers.BeginTransaction)

	app.Post("/snapshots/:snapshotId/rollback", a.handlers.RollbackSnapshot)

	t := app.Group("/transactions")
	t.Post("/:transactionId/operations", a.handlers.RecordOperation)
	t.Post("/:transactionId/commit", a.handlers.CommitTransaction)
	t.Post("/:transactionId/rollback", a.handlers.RollbackTransaction)

	app.Get("/tasks/pending", a.handlers.ListPendingTasks)
	app.Get("/health", a.handlers.HealthCheck)

	return app
}

// Start serves the API on the given port.
func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
