package routes

import (
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/swcache/internal/assets"
	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/worker"
)

// StatusSource 提供诊断接口需要的实例视图，*worker.Worker 满足该接口。
type StatusSource interface {
	State() worker.State
	Registry() *assets.Registry
	Store() cache.Store
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/generations/:name 诊断接口，
// 供 SRE 查询当前代、生命周期阶段与存储中的缓存代。
func RegisterStatusRoutes(app *fiber.App, source StatusSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		names, err := source.Store().Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(encodeStatus(source, names))
	})

	app.Get("/-/generations/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if err := cache.ValidateName(name); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_name_invalid"})
		}
		names, err := source.Store().Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		if !containsName(names, name) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
		}
		gen, err := source.Store().Open(c.Context(), name)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		keys, err := gen.Keys(c.Context())
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		sort.Strings(keys)
		return c.JSON(generationPayload{
			Name:    name,
			Current: name == source.Registry().CacheName(),
			Keys:    keys,
		})
	})
}

type statusPayload struct {
	Generation  string   `json:"generation"`
	CacheName   string   `json:"cache_name"`
	State       string   `json:"state"`
	AssetCount  int      `json:"asset_count"`
	Generations []string `json:"generations"`
}

type generationPayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Keys    []string `json:"keys"`
}

func encodeStatus(source StatusSource, names []string) statusPayload {
	reg := source.Registry()
	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	return statusPayload{
		Generation:  reg.GenerationID(),
		CacheName:   reg.CacheName(),
		State:       string(source.State()),
		AssetCount:  reg.Len(),
		Generations: sorted,
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
