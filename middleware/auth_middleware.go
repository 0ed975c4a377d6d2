package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/booking"
)

var errBadClaims = errors.New("token is missing user_id or role")

func Protected(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:   []byte(secret),
		ErrorHandler: jwtError,
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if strings.EqualFold(err.Error(), "Missing or malformed JWT") {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"status": "error", "message": "Missing or malformed JWT", "data": nil})
	}
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"status": "error", "message": "Invalid or expired JWT", "data": nil})
}

// RoleRequired lets the request through only if the token's role is one
// of roles.
func RoleRequired(roles ...booking.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := CurrentActor(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		for _, r := range roles {
			if actor.Role == r {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": fmt.Sprintf("Forbidden: %s access required", roles[0]),
		})
	}
}

// CurrentActor reads the caller from the token Protected stored.
func CurrentActor(c *fiber.Ctx) (booking.Actor, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return booking.Actor{}, errBadClaims
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return booking.Actor{}, errBadClaims
	}
	return actorFromClaims(claims)
}

// ParseActor verifies a raw token, for transports that cannot carry an
// Authorization header.
func ParseActor(tokenString, secret string) (booking.Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return booking.Actor{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return booking.Actor{}, errBadClaims
	}
	return actorFromClaims(claims)
}

func actorFromClaims(claims jwt.MapClaims) (booking.Actor, error) {
	rawID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	id, err := uuid.Parse(rawID)
	if err != nil || role == "" {
		return booking.Actor{}, errBadClaims
	}
	switch r := booking.Role(role); r {
	case booking.RoleRenter, booking.RoleOwner, booking.RoleAdmin:
		return booking.Actor{ID: id, Role: r}, nil
	}
	return booking.Actor{}, fmt.Errorf("unsupported role %q", role)
}
