package sandbox

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const openIDPrefix = "sbx_"

type loginRequest struct {
	Code string `json:"code"`
}

type profileUpdateRequest struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatar_url"`
}

type verifyRequest struct {
	RealName string `json:"real_name"`
	IDCard   string `json:"id_card"`
}

// handleLogin exchanges a one-time login code for a session token. The
// sandbox derives a stable identity from the code itself.
func (server *Server) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondDetail(ctx, http.StatusBadRequest, "expected JSON body")
		return
	}
	code := strings.TrimSpace(request.Code)
	if code == "" {
		respondDetail(ctx, http.StatusBadRequest, "login code is required")
		return
	}
	user, isNew, err := server.store.LoginUser(ctx.Request.Context(), openIDPrefix+code)
	if err != nil {
		server.internalError(ctx, "login failed", err)
		return
	}
	token, err := server.tokens.Issue(user.UserID)
	if err != nil {
		server.internalError(ctx, "token issue failed", err)
		return
	}
	respondOK(ctx, gin.H{
		"token":       token,
		"user_id":     user.UserID,
		"nickname":    user.Nickname,
		"avatar_url":  user.AvatarURL,
		"is_new_user": isNew,
	})
}

func (server *Server) handleProfile(ctx *gin.Context) {
	user, err := server.store.User(ctx.Request.Context(), currentUserID(ctx))
	if err != nil {
		server.internalError(ctx, "profile fetch failed", err)
		return
	}
	server.respondProfile(ctx, user)
}

func (server *Server) handleUpdateProfile(ctx *gin.Context) {
	var request profileUpdateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		respondDetail(ctx, http.StatusBadRequest, "expected JSON body")
		return
	}
	nickname := strings.TrimSpace(request.Nickname)
	if utf8.RuneCountInString(nickname) > 64 {
		respondDetail(ctx, http.StatusBadRequest, "nickname is too long")
		return
	}
	user, err := server.store.UpdateProfile(ctx.Request.Context(), currentUserID(ctx), nickname, strings.TrimSpace(request.AvatarURL))
	if err != nil {
		server.internalError(ctx, "profile update failed", err)
		return
	}
	server.respondProfile(ctx, user)
}

func (server *Server) respondProfile(ctx *gin.Context, user User) {
	balance, err := server.store.Balance(ctx.Request.Context(), user.UserID)
	if err != nil {
		server.internalError(ctx, "balance fetch failed", err)
		return
	}
	respondOK(ctx, gin.H{
		"user_id":      user.UserID,
		"nickname":     user.Nickname,
		"avatar_url":   user.AvatarURL,
		"phone":        user.Phone,
		"is_verified":  user.IsVerified,
		"balance":      yuan(balance.TotalCents),
		"points":       user.Points,
		"total_weight": user.TotalWeightKg,
		"total_carbon": user.TotalCarbonKg,
		"total_count":  user.TotalCount,
	})
}

func (server *Server) handleVerify(ctx *gin.Context) {
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondDetail(ctx, http.StatusBadRequest, "expected JSON body")
		return
	}
	realName := strings.TrimSpace(request.RealName)
	idCard := strings.ToUpper(strings.TrimSpace(request.IDCard))
	if realName == "" {
		respondDetail(ctx, http.StatusBadRequest, "real name is required")
		return
	}
	if !validIDCard(idCard) {
		respondDetail(ctx, http.StatusBadRequest, "id card number is invalid")
		return
	}
	if err := server.store.VerifyUser(ctx.Request.Context(), currentUserID(ctx), realName, idCard); err != nil {
		server.internalError(ctx, "verification failed", err)
		return
	}
	respondOKMessage(ctx, "verification submitted", gin.H{"is_verified": true})
}

// validIDCard accepts 18 character resident id numbers: 17 digits and a
// digit or X check character.
func validIDCard(idCard string) bool {
	if len(idCard) != 18 {
		return false
	}
	for index, character := range idCard {
		if character >= '0' && character <= '9' {
			continue
		}
		if index == 17 && character == 'X' {
			continue
		}
		return false
	}
	return true
}
