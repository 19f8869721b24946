// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/sessionauth/internal/middleware"
	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/session"
)

// maxRequestBodyBytes は認証APIが受け付けるリクエストボディの上限。
const maxRequestBodyBytes = 1 << 16

// AuthWorkflow は認証ハンドラーが必要とするワークフローのインターフェース。
// session.Workflowが実装する。
type AuthWorkflow interface {
	SignUp(ctx context.Context, params session.SignUpParams) session.Result
	SignIn(ctx context.Context, jar session.CookieJar, params session.SignInParams) session.Result
	SignOut(ctx context.Context, jar session.CookieJar)
	GetCurrentUser(ctx context.Context, jar session.CookieJar) *model.Account
	IsAuthenticated(ctx context.Context, jar session.CookieJar) bool
}

var _ AuthWorkflow = (*session.Workflow)(nil)

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	workflow AuthWorkflow
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(workflow AuthWorkflow) *AuthHandler {
	return &AuthHandler{workflow: workflow}
}

type signUpRequest struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type signInRequest struct {
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

// SignUp はIdentity Providerで作成済みのアカウントにプロフィールを登録する。
// POST /api/auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result := h.workflow.SignUp(r.Context(), session.SignUpParams{
		ID:    req.UID,
		Name:  req.Name,
		Email: req.Email,
	})
	writeJSON(w, signUpStatus(result), result)
}

// SignIn はIDトークンからセッションCookieを発行する。
// POST /api/auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	jar := session.NewHTTPCookieJar(w, r)
	result := h.workflow.SignIn(r.Context(), jar, session.SignInParams{
		Email:   req.Email,
		IDToken: req.IDToken,
	})
	writeJSON(w, signInStatus(result), result)
}

// SignOut はセッションCookieを削除する。常に成功する。
// POST /api/auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.workflow.SignOut(r.Context(), session.NewHTTPCookieJar(w, r))
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のユーザーを返す。未ログインの場合はuser: null。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := h.workflow.GetCurrentUser(r.Context(), session.NewHTTPCookieJar(w, r))
	writeJSON(w, http.StatusOK, map[string]*model.Account{"user": account})
}

// Status は認証済みかどうかを返す。
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	authenticated := h.workflow.IsAuthenticated(r.Context(), session.NewHTTPCookieJar(w, r))
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": authenticated})
}

// Account はセッションミドルウェアが解決したアカウントを返す。
// GET /api/account
func (h *AuthHandler) Account(w http.ResponseWriter, r *http.Request) {
	account, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func signUpStatus(result session.Result) int {
	switch result.Kind {
	case session.KindOK:
		return http.StatusCreated
	case session.KindDuplicate, session.KindEmailInUse:
		return http.StatusConflict
	case session.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func signInStatus(result session.Result) int {
	switch result.Kind {
	case session.KindOK:
		return http.StatusOK
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindSessionFailed, session.KindTokenMismatch:
		return http.StatusUnauthorized
	case session.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はJSONボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Warn("invalid request body",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
