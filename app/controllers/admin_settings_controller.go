package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/app/repository"
)

// HandleAdminSettings returns the active runtime settings.
func HandleAdminSettings(c *fiber.Ctx) error {
	settings, err := repository.GetGlobalFactory().GetSettingRepository().Get()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}
	return c.JSON(settings)
}

// HandleAdminSettingsUpdate applies the fields present in the JSON body on top
// of the active settings. Worker count and schedule interval apply on the
// next start of the job queue manager.
func HandleAdminSettingsUpdate(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetSettingRepository()
	settings, err := repo.Get()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}
	if err := c.BodyParser(settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid settings body"})
	}

	if err := repo.Save(settings); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": verrs.Error()})
		}
		log.Errorf("[Admin] Saving settings failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save settings"})
	}

	log.Infof("[Admin] Settings updated by user %d", sessionUserID(c))
	return c.JSON(settings)
}

// HandleAdminSettingsReload rereads the settings table, e.g. after a manual edit.
func HandleAdminSettingsReload(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetSettingRepository()
	if err := repo.Reload(); err != nil {
		log.Errorf("[Admin] Reloading settings failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to reload settings"})
	}
	return HandleAdminSettings(c)
}
