package controllers

import (
	"net/http"
	"strings"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-gonic/gin"
)

type AuthController struct {
	auth *services.AuthService
}

func NewAuthController(auth *services.AuthService) *AuthController {
	return &AuthController{auth: auth}
}

// SessionData is the answer of getSession; both fields are null without a
// valid bearer token.
type SessionData struct {
	Session *services.Session `json:"session"`
	User    *models.User      `json:"user"`
}

// Register godoc
// @Summary Register a user
// @Tags auth
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.RegisterInput true "Registration"
// @Success 200 {object} Response{data=services.AuthResult}
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Username or email taken"
// @Router /rpc/auth/register [post]
func (ac *AuthController) Register(c *gin.Context) {
	var input services.RegisterInput
	if !bind(c, &input) {
		return
	}

	result, err := ac.auth.Register(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "User registered successfully", result)
}

// Login godoc
// @Summary Log in
// @Tags auth
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.LoginInput true "Credentials"
// @Success 200 {object} Response{data=services.AuthResult}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse "Invalid email or password"
// @Router /rpc/auth/login [post]
func (ac *AuthController) Login(c *gin.Context) {
	var input services.LoginInput
	if !bind(c, &input) {
		return
	}

	result, err := ac.auth.Login(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Login successful", result)
}

// GetSession godoc
// @Summary Resolve the caller's session
// @Description Reads an optional "Bearer <token>" Authorization header
// @Tags system
// @Produce json
// @Security ApiKeyAuth
// @Security BearerAuth
// @Success 200 {object} Response{data=SessionData}
// @Router /rpc/getSession [post]
func (ac *AuthController) GetSession(c *gin.Context) {
	session, user, err := ac.auth.Session(c.Request.Context(), bearerToken(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, get session", SessionData{Session: session, User: user})
}

// HealthCheck godoc
// @Summary Liveness probe
// @Tags system
// @Produce json
// @Success 200 {object} Response{data=string}
// @Router /rpc/healthCheck [post]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Message: "OK", Data: "OK"})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
