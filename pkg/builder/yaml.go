package builder

import (
	"github.com/artforge-ai/artforge-api/internal/config"
	"github.com/gofiber/fiber/v2"
)

func FromYAML(path string, envFiles []string) (*Builder, error) {
	if len(envFiles) > 0 {
		config.LoadEnvFiles(envFiles)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	return &Builder{
		cfg:         cfg,
		middlewares: []fiber.Handler{},
	}, nil
}
