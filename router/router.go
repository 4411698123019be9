package router

import (
	"net/http"
	"time"

	"github.com/CUknot/chatroom_backend/config"
	"github.com/CUknot/chatroom_backend/controllers"
	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/metrics"
	"github.com/CUknot/chatroom_backend/middleware"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/CUknot/chatroom_backend/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/time/rate"
)

const limiterIdle = 2 * time.Minute

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config      config.Config
	Chat        *services.ChatService
	Posts       *services.PostService
	Auth        *services.AuthService
	Bus         *event.Bus
	Hub         *websocket.Hub
	RateLimiter *middleware.RateLimiter
}

// RateLimits derives the limiter settings from cfg.
func RateLimits(cfg config.Config) middleware.Limits {
	return middleware.Limits{
		Rate:    rate.Limit(cfg.RateLimitRPS),
		Burst:   cfg.RateLimitBurst,
		Streams: cfg.StreamsPerClient,
		Idle:    limiterIdle,
	}
}

// SetupRouter wires middleware, the RPC procedures, the websocket endpoint
// and the operational routes.
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(middleware.CORS(d.Config.Env, d.Config.AllowedOrigins))

	limiter := d.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(RateLimits(d.Config))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	messages := controllers.NewMessageController(d.Chat)
	rooms := controllers.NewRoomController(d.Chat)
	posts := controllers.NewPostController(d.Posts)
	auth := controllers.NewAuthController(d.Auth)

	rpc := r.Group("/rpc")
	rpc.POST("/healthCheck", controllers.HealthCheck)

	secured := rpc.Group("")
	secured.Use(limiter.Handler(), middleware.APIKey(d.Config.APIKey))
	{
		secured.POST("/getSession", auth.GetSession)

		chat := secured.Group("/chat")
		chat.POST("/getChatHistory", messages.GetChatHistory)
		chat.POST("/sendMessage", messages.SendMessage)
		chat.POST("/streamMessage", limiter.Streams(), messages.StreamMessage)
		chat.POST("/getPublicRoom", rooms.GetPublicRoom)
		chat.POST("/joinPublicRoom", rooms.JoinPublicRoom)
		chat.POST("/leavePublicRoom", rooms.LeavePublicRoom)
		chat.POST("/getOnlineUsers", rooms.GetOnlineUsers)

		post := secured.Group("/post")
		post.POST("/listPost", posts.ListPost)
		post.POST("/getPost", posts.GetPost)
		post.POST("/createPost", posts.CreatePost)
		post.POST("/updatePost", posts.UpdatePost)
		post.POST("/deletePost", posts.DeletePost)

		authGroup := secured.Group("/auth")
		authGroup.POST("/register", auth.Register)
		authGroup.POST("/login", auth.Login)
	}

	origins := d.Config.AllowedOrigins
	if d.Config.Env == "dev" {
		origins = nil
	}
	ws := websocket.NewHandler(d.Chat, d.Bus, d.Hub, origins)
	r.GET("/ws/chat", limiter.Handler(), middleware.APIKey(d.Config.APIKey), limiter.Streams(), ws.HandleConnection)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, controllers.ErrorResponse{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "procedure not found"})
	})
	return r
}
