package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pocp/middleware"
	"pocp/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func SetupStandingsRoutes(app *fiber.App, standings *services.StandingsService, attestations *services.AttestationService, pollEvery time.Duration, log *zap.Logger) {
	optionalWallet := middleware.WalletContext(false)

	app.Get("/events/:slug/standings", optionalWallet, func(c *fiber.Ctx) error {
		st, err := standings.GetEventStandings(c.UserContext(), slugParam(c), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(st)
	})

	app.Get("/events/:slug/standings/stream", optionalWallet, func(c *fiber.Ctx) error {
		// The writer outlives c, so keep copies of anything read from it.
		slug := strings.Clone(slugParam(c))
		wallet := strings.Clone(middleware.Wallet(c))

		// Fail fast on unknown events before switching to a stream.
		first, err := standings.GetEventStandings(c.UserContext(), slug, wallet)
		if err != nil {
			return respondError(c, err)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ticker := time.NewTicker(pollEvery)
			defer ticker.Stop()

			last := ""
			send := func(st *services.Standings) bool {
				fp := fingerprint(st)
				if fp == last {
					// Keepalive; a failed flush means the client is gone.
					if _, err := w.WriteString(":\n\n"); err != nil {
						return false
					}
					return w.Flush() == nil
				}
				payload, err := json.Marshal(st)
				if err != nil {
					log.Error("standings stream: encode failed", zap.String("slug", slug), zap.Error(err))
					return true
				}
				last = fp
				fmt.Fprintf(w, "event: standings\ndata: %s\n\n", payload)
				// Flush fails once the client has gone away.
				return w.Flush() == nil
			}

			if !send(first) {
				return
			}
			for range ticker.C {
				st, err := standings.GetEventStandings(context.Background(), slug, wallet)
				if err != nil {
					log.Warn("standings stream: refresh failed", zap.String("slug", slug), zap.Error(err))
					if _, err := w.WriteString(":\n\n"); err != nil || w.Flush() != nil {
						return
					}
					continue
				}
				if !send(st) {
					return
				}
			}
		})
		return nil
	})

	app.Get("/events/:slug/attestation", middleware.WalletContext(true), func(c *fiber.Ctx) error {
		payload, err := attestations.BuildPayload(c.UserContext(), slugParam(c), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"schema":  services.AttestationSchema,
			"payload": payload,
		})
	})
}

// fingerprint changes whenever the roster, a count or the accepted set changes.
func fingerprint(st *services.Standings) string {
	var b strings.Builder
	for _, u := range st.Users {
		b.WriteString(u.ID)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(u.Connections))
		b.WriteByte(';')
	}
	b.WriteString("|")
	b.WriteString(strconv.Itoa(len(st.Requests)))
	return b.String()
}
