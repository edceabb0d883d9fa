package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

func redirectWithError(c *fiber.Ctx, message, to string) error {
	fm := fiber.Map{
		"type":    "error",
		"message": message,
	}
	return flash.WithError(c, fm).Redirect(to, fiber.StatusSeeOther)
}

func redirectWithSuccess(c *fiber.Ctx, message, to string) error {
	fm := fiber.Map{
		"type":    "success",
		"message": message,
	}
	return flash.WithSuccess(c, fm).Redirect(to, fiber.StatusSeeOther)
}

func redirectWithInfo(c *fiber.Ctx, message, to string) error {
	fm := fiber.Map{
		"type":    "info",
		"message": message,
	}
	return flash.WithInfo(c, fm).Redirect(to, fiber.StatusSeeOther)
}
