package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/contentcms/api/controllers"
	"github.com/angelmondragon/contentcms/api/middleware"
	"github.com/angelmondragon/contentcms/internal/files"
	"github.com/angelmondragon/contentcms/pkg/config"
	"github.com/angelmondragon/contentcms/pkg/logger"
	"github.com/angelmondragon/contentcms/pkg/redis"
)

// Dependencies groups the collaborators the HTTP surface needs.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Storage     controllers.Pinger
	Idempotency redis.IdempotencyStore
	FileService files.Service
	Jobs        controllers.JobAdmin
	BucketCORS  controllers.BucketCORSWriter
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":      deps.DB,
			"redis":   deps.Redis,
			"storage": deps.Storage,
		}))
	})

	idempotent := middleware.Idempotency(deps.Idempotency, logg)

	r.Route("/api/v1/files", func(r chi.Router) {
		r.With(idempotent).Post("/", controllers.FileCreate(deps.FileService, logg))
		r.Route("/{fileId}", func(r chi.Router) {
			r.Get("/", controllers.FileGet(deps.FileService, logg))
			r.Patch("/", controllers.FileUpdate(deps.FileService, logg))
			r.Delete("/", controllers.FileSoftDelete(deps.FileService, logg))
			r.With(idempotent).Post("/recover", controllers.FileRecover(deps.FileService, logg))
			r.With(idempotent).Delete("/permanent", controllers.FilePermanentDelete(deps.FileService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Put("/storage/cors", controllers.AdminStorageCORS(deps.BucketCORS, logg))
		r.Get("/jobs/{jobId}", controllers.AdminJobGet(deps.Jobs, logg))
		r.Delete("/jobs/{jobId}", controllers.AdminJobDelete(deps.Jobs, logg))
	})

	return r
}
