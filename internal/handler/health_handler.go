package handler

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/provider"
)

const (
	readinessTimeout = 2 * time.Second
	probeTimeout     = 5 * time.Second
)

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgErr := sqlDB.PingContext(ctx)
		redisErr := rdb.Ping(ctx).Err()

		pgStatus := "ok"
		if pgErr != nil {
			pgStatus = "down"
		}
		redisStatus := "ok"
		if redisErr != nil {
			redisStatus = "down"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if pgErr != nil || redisErr != nil {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
			},
		})
	}
}

// ProviderProbe is one health probe target. Probes are a diagnostic side
// channel for operators; dispatch never reads them.
type ProviderProbe struct {
	Group string
	Name  string
	Probe func(ctx context.Context) provider.HealthStatus
}

type providerHealthItem struct {
	Group     string            `json:"group"`
	Name      string            `json:"name"`
	OK        bool              `json:"ok"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	LatencyMS int64             `json:"latencyMs"`
}

// CollectProviderProbes flattens configured provider chains into probe targets.
func CollectProviderProbes(
	messaging map[domain.Channel][]provider.MessageProvider,
	tasks []provider.TaskProvider,
	storage []provider.StorageProvider,
) []ProviderProbe {
	var probes []ProviderProbe

	for _, channel := range domain.Channels() {
		for _, p := range messaging[channel] {
			p := p
			probes = append(probes, ProviderProbe{
				Group: "messaging/" + channel.String(),
				Name:  p.Name(),
				Probe: p.Health,
			})
		}
	}
	for _, p := range tasks {
		p := p
		probes = append(probes, ProviderProbe{Group: "tasks", Name: p.Name(), Probe: p.Health})
	}
	for _, p := range storage {
		p := p
		probes = append(probes, ProviderProbe{Group: "storage", Name: p.Name(), Probe: p.Health})
	}

	return probes
}

func RegisterProviderHealthRoutes(app fiber.Router, probes []ProviderProbe) {
	app.Get("/healthz/providers", ProviderHealthHandler(probes))
}

// ProviderHealthHandler probes every configured provider concurrently and
// reports the results. A failing probe degrades the response code but has no
// effect on delivery routing.
func ProviderHealthHandler(probes []ProviderProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), probeTimeout)
		defer cancel()

		items := make([]providerHealthItem, len(probes))
		var mu sync.Mutex

		g, probeCtx := errgroup.WithContext(ctx)
		for i, probe := range probes {
			i, probe := i, probe
			g.Go(func() error {
				start := time.Now()
				status := probe.Probe(probeCtx)
				item := providerHealthItem{
					Group:     probe.Group,
					Name:      probe.Name,
					OK:        status.OK,
					Message:   status.Message,
					Details:   status.Details,
					LatencyMS: time.Since(start).Milliseconds(),
				}

				mu.Lock()
				items[i] = item
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		sort.SliceStable(items, func(a, b int) bool {
			if items[a].Group != items[b].Group {
				return items[a].Group < items[b].Group
			}
			return items[a].Name < items[b].Name
		})

		allOK := true
		for _, item := range items {
			if !item.OK {
				allOK = false
				break
			}
		}

		status := "ok"
		statusCode := fiber.StatusOK
		if !allOK {
			status = "degraded"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status":    status,
			"providers": items,
		})
	}
}
