package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/riskgate/riskgate/internal/engine"
	"github.com/riskgate/riskgate/internal/model"
)

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"version":     version,
		"policy_hash": s.policies.Hash(),
	})
}

func (s *Server) handleEvaluate(c fiber.Ctx) error {
	var body struct {
		SessionID string         `json:"session_id"`
		Action    string         `json:"action"`
		Target    string         `json:"target"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res, err := s.engine.Evaluate(engine.EvaluateRequest{
		SessionID: body.SessionID,
		Action:    body.Action,
		Target:    body.Target,
		Metadata:  metadataFrom(body.Metadata),
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleApprove(c fiber.Ctx) error {
	var body struct {
		ActionID int64  `json:"action_id"`
		Approved bool   `json:"approved"`
		Notes    string `json:"notes"`
		Channel  string `json:"channel"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Channel == "" {
		body.Channel = "rest"
	}

	rec, err := s.engine.Approve(body.ActionID, body.Approved, body.Notes, body.Channel)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(rec)
}

func (s *Server) handleNearMiss(c fiber.Ctx) error {
	var body struct {
		SessionID     string         `json:"session_id"`
		ActionPattern string         `json:"action_pattern"`
		Target        string         `json:"target"`
		NearMissType  string         `json:"near_miss_type"`
		Severity      float64        `json:"severity"`
		Description   string         `json:"description"`
		Metadata      map[string]any `json:"metadata"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	ev, err := s.engine.RecordNearMiss(engine.NearMissRequest{
		SessionID:   body.SessionID,
		Pattern:     body.ActionPattern,
		Target:      body.Target,
		Type:        body.NearMissType,
		Severity:    body.Severity,
		Description: body.Description,
		Metadata:    metadataFrom(body.Metadata),
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ev)
}

func (s *Server) handleBudget(c fiber.Ctx) error {
	return c.JSON(s.engine.Budget(c.Params("session_id")))
}

func (s *Server) handlePending(c fiber.Ctx) error {
	pending := s.engine.Pending()
	return c.JSON(fiber.Map{"pending": pending, "count": len(pending)})
}

func (s *Server) handleAction(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid action id"})
	}
	rec, err := s.engine.Action(id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(rec)
}

func (s *Server) handleStats(c fiber.Ctx) error {
	return c.JSON(s.engine.Stats())
}

func (s *Server) handleReload(c fiber.Ctx) error {
	if err := s.ReloadPolicy(); err != nil {
		return httpError(c, err)
	}
	return c.JSON(fiber.Map{"status": "reloaded", "policy_hash": s.policies.Hash()})
}

func (s *Server) handleListWebhooks(c fiber.Ctx) error {
	hooks, err := s.store.Webhooks()
	if err != nil {
		return httpError(c, err)
	}
	// Secrets do not leave the server.
	for i := range hooks {
		hooks[i].Secret = ""
	}
	return c.JSON(fiber.Map{"webhooks": hooks, "count": len(hooks)})
}

func (s *Server) handleAddWebhook(c fiber.Ctx) error {
	var body struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Format string   `json:"format"`
		Secret string   `json:"secret"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.URL == "" || len(body.Events) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url and events are required"})
	}

	hook := &model.Webhook{
		URL:       body.URL,
		Events:    body.Events,
		Format:    body.Format,
		Secret:    body.Secret,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddWebhook(hook); err != nil {
		return httpError(c, err)
	}
	s.dispatcher.Add(*hook)

	out := *hook
	out.Secret = ""
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (s *Server) handleDeleteWebhook(c fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid webhook id"})
	}
	if err := s.store.DeleteWebhook(id); err != nil {
		return httpError(c, err)
	}
	s.dispatcher.Remove(id)
	return c.JSON(fiber.Map{"status": "deleted"})
}

func (s *Server) handleAuditExport(c fiber.Ctx) error {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid 'from' timestamp"})
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid 'to' timestamp"})
		}
		to = t
	}

	actions := s.engine.Actions(from, to)
	return c.JSON(fiber.Map{
		"exported_at": time.Now().UTC(),
		"count":       len(actions),
		"actions":     actions,
	})
}

func (s *Server) handleEvents(c fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	ch := s.bus.Subscribe()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer s.bus.Unsubscribe(ch)

		fmt.Fprintf(w, ": connected\n\n")
		w.Flush()

		for ev := range ch {
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, data)
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}
