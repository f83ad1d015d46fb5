// Package mockapi is an in-process stand-in for the cloud control plane that
// the built-in scenarios drive. It is used by tests and by the `mock` command
// for local rehearsals.
package mockapi

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

// Route names used for hit counting.
const (
	RouteHealth         = "health"
	RouteRegister       = "register"
	RouteLogin          = "login"
	RouteCreateVPC      = "create_vpc"
	RouteCreateInstance = "create_instance"
	RouteDeleteInstance = "delete_instance"
	RouteDeleteVPC      = "delete_vpc"
)

var routes = []string{
	RouteHealth, RouteRegister, RouteLogin, RouteCreateVPC,
	RouteCreateInstance, RouteDeleteInstance, RouteDeleteVPC,
}

// Options configures the mock.
type Options struct {
	// LoginStatus is returned by POST /auth/login. Zero means 200.
	LoginStatus int
	// Latency is added to every response.
	Latency time.Duration
	// FailEvery makes every Nth request (across all routes) answer 500. Zero disables it.
	FailEvery int64
}

// Envelope is the response wrapper of the control plane.
type Envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is the mock control plane.
type Server struct {
	app  *fiber.App
	opts Options

	hits  map[string]*atomic.Int64
	total atomic.Int64

	mu        sync.Mutex
	keys      map[string]string // api key -> email
	vpcs      map[string]string // id -> owner key
	instances map[string]string // id -> vpc id

	ln net.Listener
}

// New creates the mock server.
func New(opts Options) *Server {
	if opts.LoginStatus == 0 {
		opts.LoginStatus = fiber.StatusOK
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "mock control plane",
			DisableStartupMessage: true,
		}),
		opts:      opts,
		hits:      make(map[string]*atomic.Int64, len(routes)),
		keys:      make(map[string]string),
		vpcs:      make(map[string]string),
		instances: make(map[string]string),
	}
	for _, r := range routes {
		s.hits[r] = &atomic.Int64{}
	}
	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test in unit tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hits returns the number of requests served for a route name.
func (s *Server) Hits(route string) int64 {
	if h, ok := s.hits[route]; ok {
		return h.Load()
	}
	return 0
}

// Live returns the number of VPCs and instances that were created and not deleted.
func (s *Server) Live() (vpcs, instances int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vpcs), len(s.instances)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Start listens on addr (use "127.0.0.1:0" for a random port) in the
// background and returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.ln = ln
	go func() {
		_ = s.app.Listener(ln)
	}()
	return "http://" + ln.Addr().String(), nil
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

func (s *Server) setupRoutes() {
	s.app.Use(fiberrecover.New())
	s.app.Use(s.common)

	s.app.Get("/health", s.count(RouteHealth, s.health))
	s.app.Post("/auth/register", s.count(RouteRegister, s.register))
	s.app.Post("/auth/login", s.count(RouteLogin, s.login))

	s.app.Post("/vpcs", s.count(RouteCreateVPC, s.auth(s.createVPC)))
	s.app.Delete("/vpcs/:id", s.count(RouteDeleteVPC, s.auth(s.deleteVPC)))
	s.app.Post("/instances", s.count(RouteCreateInstance, s.auth(s.createInstance)))
	s.app.Delete("/instances/:id", s.count(RouteDeleteInstance, s.auth(s.deleteInstance)))
}

// common applies latency and injected failures.
func (s *Server) common(c *fiber.Ctx) error {
	if s.opts.Latency > 0 {
		time.Sleep(s.opts.Latency)
	}
	n := s.total.Add(1)
	if s.opts.FailEvery > 0 && n%s.opts.FailEvery == 0 {
		return c.Status(fiber.StatusInternalServerError).JSON(Envelope{Error: "injected failure"})
	}
	return c.Next()
}

func (s *Server) count(route string, h fiber.Handler) fiber.Handler {
	counter := s.hits[route]
	return func(c *fiber.Ctx) error {
		counter.Add(1)
		return h(c)
	}
}

func (s *Server) auth(h fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		s.mu.Lock()
		_, ok := s.keys[key]
		s.mu.Unlock()
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(Envelope{Error: "invalid api key"})
		}
		c.Locals("api_key", key)
		return h(c)
	}
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) register(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Envelope{Error: "email is required"})
	}
	return c.Status(fiber.StatusCreated).JSON(Envelope{Data: fiber.Map{
		"id":    uuid.NewString(),
		"email": req.Email,
		"name":  req.Name,
	}})
}

func (s *Server) login(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Envelope{Error: "email is required"})
	}
	if s.opts.LoginStatus != fiber.StatusOK {
		return c.Status(s.opts.LoginStatus).JSON(Envelope{Error: "invalid credentials"})
	}

	key := "ak_" + uuid.NewString()
	s.mu.Lock()
	s.keys[key] = req.Email
	s.mu.Unlock()
	return c.JSON(Envelope{Data: fiber.Map{"api_key": key, "email": req.Email}})
}

type createVPCRequest struct {
	Name      string `json:"name"`
	CIDRBlock string `json:"cidr_block"`
}

func (s *Server) createVPC(c *fiber.Ctx) error {
	var req createVPCRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Envelope{Error: "name is required"})
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.vpcs[id] = c.Locals("api_key").(string)
	s.mu.Unlock()
	return c.Status(fiber.StatusCreated).JSON(Envelope{Data: fiber.Map{
		"id":         id,
		"name":       req.Name,
		"cidr_block": req.CIDRBlock,
	}})
}

type createInstanceRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
	VPCID string `json:"vpc_id"`
}

func (s *Server) createInstance(c *fiber.Ctx) error {
	var req createInstanceRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Envelope{Error: "name is required"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.VPCID != "" {
		if _, ok := s.vpcs[req.VPCID]; !ok {
			return c.Status(fiber.StatusNotFound).JSON(Envelope{Error: "vpc not found"})
		}
	}
	id := uuid.NewString()
	s.instances[id] = req.VPCID
	return c.Status(fiber.StatusAccepted).JSON(Envelope{Data: fiber.Map{
		"id":     id,
		"name":   req.Name,
		"image":  req.Image,
		"status": "STARTING",
	}})
}

func (s *Server) deleteInstance(c *fiber.Ctx) error {
	id := c.Params("id")
	s.mu.Lock()
	_, ok := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(Envelope{Error: "instance not found"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) deleteVPC(c *fiber.Ctx) error {
	id := c.Params("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vpcs[id]; !ok {
		return c.Status(fiber.StatusNotFound).JSON(Envelope{Error: "vpc not found"})
	}
	for _, vpc := range s.instances {
		if vpc == id {
			return c.Status(fiber.StatusConflict).JSON(Envelope{Error: "vpc has instances"})
		}
	}
	delete(s.vpcs, id)
	return c.SendStatus(fiber.StatusNoContent)
}
