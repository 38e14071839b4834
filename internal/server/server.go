package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/persist"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/registry"
	"whiteboard-backend/internal/room"
)

// Server Fiber 서버 래퍼
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	store        *room.Store
	registry     *registry.Registry
	boardHandler *handler.BoardWSHandler
	jwtManager   *auth.JWTManager
	presence     *presence.Manager

	bgCancel context.CancelFunc
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Whiteboard Sync Gateway",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	gateway := persist.NewGormGateway(db)
	store := room.NewStore(gateway, cfg.Sync.DrainRetryInterval, cfg.Sync.DrainRetryMax)
	reg := registry.New()

	// Redis presence는 선택적: 주소가 없거나 연결 실패면 비활성.
	var pres *presence.Manager
	if cfg.Redis.Addr != "" {
		var err error
		pres, err = presence.NewManager(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Presence disabled: %v", err)
			pres = nil
		} else {
			log.Printf("Presence enabled (redis: %s)", cfg.Redis.Addr)
		}
	}

	return &Server{
		app:          app,
		cfg:          cfg,
		store:        store,
		registry:     reg,
		boardHandler: handler.NewBoardWSHandler(store, reg, pres),
		jwtManager:   jwtManager,
		presence:     pres,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"status":      "ok",
			"activeRooms": s.store.ActiveRooms(),
			"connections": s.registry.Count(),
		}
		if s.presence != nil {
			occupancy := make(map[string]int64)
			for _, roomID := range s.store.RoomIDs() {
				count, err := s.presence.RoomCount(c.Context(), roomID)
				if err != nil {
					continue
				}
				occupancy[roomID] = count
			}
			resp["roomOccupancy"] = occupancy
		}
		return c.JSON(resp)
	})

	// 핸드셰이크 폭주 방지
	wsLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// WebSocket 보드 엔드포인트: 토큰 검증은 업그레이드 전에 수행.
	// 검증 실패 시 어떤 메시지도 처리하지 않고 연결을 거부한다.
	s.app.Get("/ws/board", wsLimiter, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		userID, err := s.jwtManager.Validate(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userId", userID)
		return c.Next()
	}, websocket.New(s.boardHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// StartBackground 하트비트/체크포인트 루프 시작
func (s *Server) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	go s.registry.RunHeartbeat(ctx, s.cfg.Sync.HeartbeatInterval, s.cfg.Sync.LivenessTimeout,
		func(client *registry.Client, rooms []string) {
			s.boardHandler.DrainAbandoned(client.UserID(), rooms)
		})

	if s.cfg.Sync.CheckpointInterval > 0 {
		go s.store.RunCheckpoints(ctx, s.cfg.Sync.CheckpointInterval)
		log.Printf("Checkpointing active rooms every %s", s.cfg.Sync.CheckpointInterval)
	}
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	s.StartBackground()

	log.Printf("Whiteboard sync gateway starting on %s", s.cfg.Server.Port)
	log.Printf("WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	err := s.app.Listen(s.cfg.Server.Port)

	// 종료 전에 활성 방을 한 번 더 내려 씀: drain만이 유일한 영속 지점이
	// 되지 않도록 하는 최종 안전망.
	s.Shutdown()
	return err
}

// Shutdown 백그라운드 루프 중지 + 활성 방 플러시
func (s *Server) Shutdown() {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.store.FlushAll(ctx, "shutdown")

	if s.presence != nil {
		_ = s.presence.Close()
	}
}
