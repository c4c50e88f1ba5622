package api

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/bustracker/pkg/util"
)

const DriverIDHeader = "X-Driver-ID"

// CustomClaims contains custom data we want from the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// DriverIdentity resolves the authenticated driver and stores it in the driver_id local.
// With AUTH0_DOMAIN set the driver is the subject of a validated bearer token, otherwise the
// X-Driver-ID header set by the upstream gateway is trusted.
func DriverIdentity() fiber.Handler {
	env := util.GetEnvironmentVariables()

	if env["AUTH0_DOMAIN"] == "" {
		log.Info().Msgf("AUTH0_DOMAIN not set, trusting %s header for driver identity", DriverIDHeader)
		return headerDriverIdentity
	}

	return tokenDriverIdentity(env["AUTH0_DOMAIN"], env["AUTH0_AUDIENCE"])
}

func headerDriverIdentity(c *fiber.Ctx) error {
	driverID := strings.TrimSpace(c.Get(DriverIDHeader))
	if driverID == "" {
		c.SendStatus(fiber.StatusUnauthorized)
		return c.JSON(fiber.Map{
			"success": false,
			"message": "Driver identity is required",
		})
	}

	c.Locals("driver_id", driverID)

	return c.Next()
}

func tokenDriverIdentity(domain string, audience string) fiber.Handler {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse the issuer url")
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up the jwt validator")
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"success": false,
				"message": "Authorization header is required",
			})
		}

		claimsI, jwtErr := jwtValidator.ValidateToken(c.UserContext(), strings.TrimPrefix(authHeader, "Bearer "))
		if jwtErr != nil {
			c.SendStatus(fiber.StatusUnauthorized)
			return c.JSON(fiber.Map{
				"success": false,
				"message": "Invalid auth token",
			})
		}

		claims := claimsI.(*validator.ValidatedClaims)
		c.Locals("driver_id", claims.RegisteredClaims.Subject)

		return c.Next()
	}
}
