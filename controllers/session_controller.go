package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/api"
	"storefront/logging"
	"storefront/middlewares"
	"storefront/models"
	"storefront/utils"
)

type loginRequest struct {
	Token string      `json:"token" binding:"required"`
	User  models.User `json:"user"`
}

// establish checks token, saves the session and joins the user's push
// channel. With a secret configured the token's user claim decides the
// identity; otherwise it only fills a missing one. It writes the error
// response itself and reports whether the session was created.
func (ctl *Controller) establish(c *gin.Context, token string, user models.User) bool {
	log := logging.FromCtx(c.Request.Context())

	id, err := utils.ParseToken(token, ctl.JWTSecret)
	switch {
	case err == nil && (ctl.JWTSecret != "" || user.Identity() == ""):
		user.ID = id
	case err != nil && ctl.JWTSecret != "":
		log.Warn("rejecting session token", slog.Any("err", err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return false
	}

	ctx := c.Request.Context()
	ctl.Sessions.Login(ctx, token, user)

	connected := false
	if ctl.Push != nil {
		if err := ctl.Push.Connect(ctx, user.Identity()); err != nil {
			log.Warn("push channel connect failed", slog.Any("err", err))
		}
		connected = ctl.Push.Connected()
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user, "connected": connected})
	return true
}

// Login adopts a token the backend issued elsewhere.
func (ctl *Controller) Login(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("login", c.Writer.Status() < 300)
	}()

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctl.establish(c, req.Token, req.User)
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignIn logs in with credentials against the backend.
func (ctl *Controller) SignIn(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("login", c.Writer.Status() < 300)
	}()

	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := ctl.Backend.Login(c.Request.Context(), api.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		ctl.authFailed(c, err, "Login failed")
		return
	}
	ctl.establish(c, res.Token, res.User)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (ctl *Controller) Register(c *gin.Context) {
	defer func() {
		middlewares.RecordOperation("register", c.Writer.Status() < 300)
	}()

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := ctl.Backend.Register(c.Request.Context(), api.Registration{
		Username: req.Username, Email: req.Email, Password: req.Password,
	})
	if err != nil {
		ctl.authFailed(c, err, "Register failed")
		return
	}
	ctl.establish(c, res.Token, res.User)
}

// authFailed maps backend rejections to 401 and anything else to 502.
func (ctl *Controller) authFailed(c *gin.Context, err error, msg string) {
	var se *api.StatusError
	if errors.As(err, &se) && se.Code < 500 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
		return
	}
	logging.FromCtx(c.Request.Context()).Error("auth request failed", slog.Any("err", err))
	c.JSON(http.StatusBadGateway, gin.H{"error": msg})
}

// Logout ends the backend session when there is one, then always clears
// the local session and leaves the push channel.
func (ctl *Controller) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.FromCtx(ctx)

	if token := c.GetString(middlewares.CtxToken); token != "" {
		if err := ctl.Backend.Logout(ctx, token); err != nil {
			log.Warn("backend logout failed", slog.Any("err", err))
		}
	}
	ctl.Sessions.Logout(ctx)
	if ctl.Push != nil {
		if err := ctl.Push.Disconnect(); err != nil {
			log.Warn("push channel disconnect failed", slog.Any("err", err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// RefreshProfile reloads the signed-in user's record from the backend.
func (ctl *Controller) RefreshProfile(c *gin.Context) {
	token := c.GetString(middlewares.CtxToken)
	user, err := ctl.Backend.Profile(c.Request.Context(), token)
	if err != nil {
		logging.FromCtx(c.Request.Context()).Error("fetch profile", slog.Any("err", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load profile"})
		return
	}
	if user.Identity() == "" {
		user.ID = c.GetString(middlewares.CtxUserID)
	}
	ctl.Sessions.Login(c.Request.Context(), token, user)
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (ctl *Controller) GetSession(c *gin.Context) {
	user, ok := ctl.Sessions.User()
	resp := gin.H{"authenticated": ctl.Sessions.Token() != ""}
	if ok {
		resp["user"] = user
	}
	if ctl.Push != nil {
		resp["connected"] = ctl.Push.Connected() && ok && ctl.Push.UserID() == user.Identity()
	}
	c.JSON(http.StatusOK, resp)
}
