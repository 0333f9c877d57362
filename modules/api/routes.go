package api

import (
	"errors"
	"sort"
	"strings"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/modules/messaging"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes.
func (m *Module) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)
	if m.deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket endpoint
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(m.handleWebSocket, websocket.Config{
		Origins: splitOrigins(m.cfg.CORSAllowedOrigins),
	}))

	api := app.Group("/api")
	api.Post("/register", m.register)
	api.Post("/login", m.login)
	api.Get("/usuarios", m.listUsers)
	api.Get("/conversaciones/:id", m.conversations)
	api.Get("/mensajes/id/:id", m.getMessage)
	api.Get("/mensajes/:usuario/:contacto", m.conversation)
	api.Post("/mensajes/leer", m.markRead)
	api.Post("/marcar-leidos", m.markReadAlias)
	api.Get("/salas", m.listRooms)
}

// healthHandler handles GET /health.
func (m *Module) healthHandler(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:  "healthy",
		Modules: make(map[string]ModuleHealth, len(m.deps.Health)),
	}
	for _, src := range m.deps.Health {
		h := src.Health(c.UserContext())
		resp.Modules[src.Name()] = ModuleHealth{
			Healthy: h.Healthy,
			Message: h.Message,
			Details: h.Details,
		}
		if !h.Healthy {
			resp.Status = "degraded"
		}
	}

	status := fiber.StatusOK
	if resp.Status != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

// register handles POST /api/register.
func (m *Module) register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cuerpo de la petición inválido")
	}

	user, err := m.gateway.RegisterUser(c.UserContext(), messaging.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Area:     req.Area,
		GitHub:   req.GitHub,
	})
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(UserResponse{Success: true, User: user})
}

// login handles POST /api/login.
func (m *Module) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cuerpo de la petición inválido")
	}

	user, err := m.gateway.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(UserResponse{Success: true, User: user})
}

// listUsers handles GET /api/usuarios?exclude=<id>.
func (m *Module) listUsers(c *fiber.Ctx) error {
	users, err := m.gateway.ListUsers(c.UserContext(), int64(c.QueryInt("exclude", 0)))
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(UsersResponse{Success: true, Users: users})
}

// conversations handles GET /api/conversaciones/:id.
func (m *Module) conversations(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "ID de usuario inválido")
	}

	list, err := m.gateway.Conversations(c.UserContext(), int64(id))
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(ConversationsResponse{Success: true, Conversations: list})
}

// conversation handles GET /api/mensajes/:usuario/:contacto.
func (m *Module) conversation(c *fiber.Ctx) error {
	userID, err1 := c.ParamsInt("usuario")
	contactID, err2 := c.ParamsInt("contacto")
	if err1 != nil || err2 != nil || userID <= 0 || contactID <= 0 {
		return badRequest(c, "IDs de usuario inválidos")
	}

	msgs, err := m.gateway.FetchConversation(c.UserContext(), int64(userID), int64(contactID))
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(MessagesResponse{Success: true, Messages: msgs})
}

// getMessage handles GET /api/mensajes/id/:id.
func (m *Module) getMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "ID de mensaje inválido")
	}

	msg, err := m.gateway.FetchPrivateMessage(c.UserContext(), int64(id))
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(msg)
}

// markRead handles POST /api/mensajes/leer.
func (m *Module) markRead(c *fiber.Ctx) error {
	var req MarkReadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cuerpo de la petición inválido")
	}
	return m.doMarkRead(c, req.UserID, req.SenderID)
}

// markReadAlias handles POST /api/marcar-leidos.
func (m *Module) markReadAlias(c *fiber.Ctx) error {
	var req MarkReadAliasRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Cuerpo de la petición inválido")
	}
	return m.doMarkRead(c, req.UserID, req.RecipientID)
}

func (m *Module) doMarkRead(c *fiber.Ctx, readerID, senderID int64) error {
	n, err := m.gateway.MarkRead(c.UserContext(), readerID, senderID)
	if err != nil {
		return m.gatewayError(c, err)
	}
	return c.JSON(MarkReadResponse{Success: true, Updated: n})
}

// listRooms handles GET /api/salas.
func (m *Module) listRooms(c *fiber.Ctx) error {
	rooms := m.deps.Registry.Rooms()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return c.JSON(RoomsResponse{Rooms: rooms, Total: len(rooms)})
}

// gatewayError maps gateway failures to HTTP responses. Unknown errors go
// to the global error handler.
func (m *Module) gatewayError(c *fiber.Ctx, err error) error {
	var verr *messaging.ValidationError
	switch {
	case errors.As(err, &verr):
		return badRequest(c, verr.Message)
	case errors.Is(err, messaging.ErrEmailTaken):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "email_taken",
			Message: "El email ya está registrado",
		})
	case errors.Is(err, messaging.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:   "invalid_credentials",
			Message: "Credenciales inválidas",
		})
	case errors.Is(err, messaging.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: "No encontrado",
		})
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		m.logger.Warn("persistence unavailable", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Error:   "unavailable",
			Message: "Servicio no disponible, intenta de nuevo",
		})
	default:
		return err
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "validation",
		Message: message,
	})
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
