package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/auth"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/logx"
	"github.com/suPer8Hu/hackgpt/internal/models"
	"gorm.io/gorm"
)

type signUpReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
	}
}

func (h *Handler) SignUp(c *gin.Context) {
	var req signUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	user, token, err := h.Auth.SignUp(c.Request.Context(), req.Username, req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidSignup):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		common.Fail(c, http.StatusConflict, 40901, "user already exists")
		return
	default:
		logx.FromContext(c.Request.Context()).Error("signup failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Plain(c, gin.H{"token": token, "user": userView(user)})
}

func (h *Handler) SignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	user, token, err := h.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
			return
		}
		logx.FromContext(c.Request.Context()).Error("signin failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Plain(c, gin.H{"token": token, "user": userView(user)})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	user, err := h.Auth.GetUser(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.Plain(c, userView(user))
}
