// Package session はセッションCookieによる認証ワークフローを提供する。
//
// Workflowはサインアップ、サインイン、サインアウト、現在のユーザー解決を
// Identity Provider、Profile Store、CookieJarの呼び出しとして組み立てる。
// 各操作はリクエスト単位で完結し、共有可変状態を持たない。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/sessionauth/internal/metrics"
	"github.com/hitoshi/sessionauth/internal/model"
	"github.com/hitoshi/sessionauth/internal/repository"
	"github.com/hitoshi/sessionauth/internal/security"
)

// Kind は操作結果の種別。
type Kind string

const (
	KindOK            Kind = "ok"
	KindDuplicate     Kind = "duplicate"
	KindEmailInUse    Kind = "email_in_use"
	KindNotFound      Kind = "not_found"
	KindSessionFailed Kind = "session_failed"
	KindTokenMismatch Kind = "token_mismatch"
	KindInvalidInput  Kind = "invalid_input"
	KindProviderFault Kind = "provider_fault"
)

// ユーザー向けメッセージ。
const (
	MsgSignUpSuccess = "Account created successfully. Please sign in."
	MsgUserExists    = "User already exists. Please sign in."
	MsgEmailInUse    = "This email is already in use"
	MsgSignUpFailed  = "Failed to create account. Please try again."
	MsgSignInSuccess = "Successfully signed in"
	MsgUserNotFound  = "User does not exist. Create an account."
	MsgSessionFailed = "Failed to create session. Please try again."
	MsgSignInFailed  = "Authentication failed. Please try again."
)

// CurrentUserが返す理由。
var (
	ErrNoSession      = errors.New("no session cookie")
	ErrSessionInvalid = errors.New("session is invalid")
	ErrProfileMissing = errors.New("profile not found for session account")
)

// Result はサインアップ・サインインの結果。
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
}

func ok(msg string) Result {
	return Result{Success: true, Message: msg, Kind: KindOK}
}

func fail(kind Kind, msg string) Result {
	return Result{Success: false, Message: msg, Kind: kind}
}

// SignUpParams はサインアップの入力。
// IDはIdentity Providerで作成済みのアカウントIDである前提。
type SignUpParams struct {
	ID    string
	Name  string
	Email string
}

// SignInParams はサインインの入力。
type SignInParams struct {
	Email   string
	IDToken string
}

// Options はWorkflowの設定。
type Options struct {
	// Cookie はセッションCookieの属性。ゼロ値の場合はNewCookieAttributes(false, "")を使う。
	Cookie CookieAttributes

	// EnforceTokenOwner がtrueの場合、サインイン時にIDトークンのsubjectと
	// emailで解決したアカウントIDの一致を確認してからセッションを発行する。
	EnforceTokenOwner bool

	Sanitizer security.ProfileSanitizer
	Metrics   metrics.MetricsCollector
}

// Workflow はセッション認証ワークフロー。
// 不変のコラボレーターのみを保持し、並行利用できる。
type Workflow struct {
	provider     IdentityProvider
	profiles     ProfileStore
	cookie       CookieAttributes
	enforceOwner bool
	sanitizer    security.ProfileSanitizer
	metrics      metrics.MetricsCollector
}

// NewWorkflow はWorkflowを生成する。
func NewWorkflow(provider IdentityProvider, profiles ProfileStore, opts Options) *Workflow {
	if opts.Cookie == (CookieAttributes{}) {
		opts.Cookie = NewCookieAttributes(false, "")
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = security.NewProfileSanitizer()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Workflow{
		provider:     provider,
		profiles:     profiles,
		cookie:       opts.Cookie,
		enforceOwner: opts.EnforceTokenOwner,
		sanitizer:    opts.Sanitizer,
		metrics:      opts.Metrics,
	}
}

// CookieAttributes はセッションCookieの属性を返す。
func (w *Workflow) CookieAttributes() CookieAttributes {
	return w.cookie
}

func (w *Workflow) observe(call string, start time.Time, err error) {
	w.metrics.RecordProviderCall(call, time.Since(start), err)
}

// SetSessionCookie はIDトークンからセッショントークンを発行し、Cookieに保存する。
// 失敗した場合はfalseを返し、エラーを呼び出し元に伝播しない。
func (w *Workflow) SetSessionCookie(ctx context.Context, jar CookieJar, idToken string) bool {
	start := time.Now()
	token, err := w.provider.IssueSessionToken(ctx, idToken, SessionTTL)
	w.observe("issue_session_token", start, err)
	if err != nil {
		slog.Warn("failed to issue session token",
			slog.String("op", "set_session_cookie"),
			slog.String("code", model.AuthErrorCode(err)),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := jar.Set(CookieName, token, w.cookie); err != nil {
		slog.Error("failed to set session cookie",
			slog.String("op", "set_session_cookie"),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// SignUp はプロフィールドキュメントを作成する。
// 同一IDのドキュメントが既に存在する場合は上書きせず失敗を返す。
func (w *Workflow) SignUp(ctx context.Context, params SignUpParams) Result {
	res := w.signUp(ctx, params)
	w.metrics.RecordOperation("sign_up", string(res.Kind))
	return res
}

func (w *Workflow) signUp(ctx context.Context, params SignUpParams) Result {
	log := slog.With(slog.String("op", "sign_up"), slog.String("account_id", params.ID))

	if params.ID == "" {
		log.Info("sign up rejected", slog.String("reason", "empty account id"))
		return fail(KindInvalidInput, MsgSignUpFailed)
	}

	start := time.Now()
	existing, err := w.profiles.Get(ctx, params.ID)
	w.observe("get_profile", start, err)
	if err != nil {
		return w.signUpError(log, err)
	}
	if existing != nil {
		log.Info("sign up rejected", slog.String("kind", string(KindDuplicate)))
		return fail(KindDuplicate, MsgUserExists)
	}

	// 既存ドキュメントの判定を優先し、入力の正規化はその後に行う
	name, err := w.sanitizer.DisplayName(params.Name)
	if err != nil {
		log.Info("sign up rejected", slog.String("reason", err.Error()))
		return fail(KindInvalidInput, MsgSignUpFailed)
	}
	email, err := w.sanitizer.Email(params.Email)
	if err != nil {
		log.Info("sign up rejected", slog.String("reason", err.Error()))
		return fail(KindInvalidInput, MsgSignUpFailed)
	}

	start = time.Now()
	err = w.profiles.Put(ctx, params.ID, model.Profile{Name: name, Email: email})
	w.observe("put_profile", start, err)
	if errors.Is(err, repository.ErrProfileExists) {
		log.Info("sign up rejected", slog.String("kind", string(KindDuplicate)))
		return fail(KindDuplicate, MsgUserExists)
	}
	if err != nil {
		return w.signUpError(log, err)
	}

	log.Info("account registered")
	return ok(MsgSignUpSuccess)
}

func (w *Workflow) signUpError(log *slog.Logger, err error) Result {
	if model.HasAuthCode(err, model.CodeEmailAlreadyExists) {
		log.Info("sign up rejected", slog.String("kind", string(KindEmailInUse)))
		return fail(KindEmailInUse, MsgEmailInUse)
	}
	log.Error("sign up failed", slog.String("error", err.Error()))
	return fail(KindProviderFault, MsgSignUpFailed)
}

// SignIn はemailでアカウントを解決し、IDトークンからセッションCookieを発行する。
// Profile Storeにはアクセスしない。
func (w *Workflow) SignIn(ctx context.Context, jar CookieJar, params SignInParams) Result {
	res := w.signIn(ctx, jar, params)
	w.metrics.RecordOperation("sign_in", string(res.Kind))
	return res
}

func (w *Workflow) signIn(ctx context.Context, jar CookieJar, params SignInParams) Result {
	log := slog.With(slog.String("op", "sign_in"))

	email, err := security.NormalizeEmail(params.Email)
	if err != nil {
		log.Info("sign in rejected", slog.String("reason", err.Error()))
		return fail(KindInvalidInput, MsgSignInFailed)
	}

	start := time.Now()
	accountID, err := w.provider.FindAccountByEmail(ctx, email)
	w.observe("find_account_by_email", start, err)
	if model.HasAuthCode(err, model.CodeUserNotFound) {
		log.Info("sign in rejected", slog.String("kind", string(KindNotFound)))
		return fail(KindNotFound, MsgUserNotFound)
	}
	if err != nil {
		log.Error("account lookup failed", slog.String("error", err.Error()))
		return fail(KindProviderFault, MsgSignInFailed)
	}
	log = log.With(slog.String("account_id", accountID))

	if w.enforceOwner {
		start = time.Now()
		subject, err := w.provider.VerifyIDToken(ctx, params.IDToken)
		w.observe("verify_id_token", start, err)
		if err != nil {
			log.Warn("id token verification failed",
				slog.String("code", model.AuthErrorCode(err)),
				slog.String("error", err.Error()),
			)
			return fail(KindSessionFailed, MsgSessionFailed)
		}
		if subject != accountID {
			log.Warn("id token subject does not match account",
				slog.String("token_subject", subject),
			)
			return fail(KindTokenMismatch, MsgSignInFailed)
		}
	}

	if !w.SetSessionCookie(ctx, jar, params.IDToken) {
		return fail(KindSessionFailed, MsgSessionFailed)
	}

	log.Info("signed in")
	return ok(MsgSignInSuccess)
}

// SignOut はセッションCookieを削除する。Identity Providerは呼び出さない。
func (w *Workflow) SignOut(ctx context.Context, jar CookieJar) {
	jar.Delete(CookieName, w.cookie)
	w.metrics.RecordOperation("sign_out", string(KindOK))
	slog.Info("signed out", slog.String("op", "sign_out"))
}

// CurrentUser はセッションCookieからアカウントを解決する。
// Cookieがない場合はErrNoSession、トークンが無効な場合はErrSessionInvalid、
// プロフィールがない場合はErrProfileMissingを返す。
func (w *Workflow) CurrentUser(ctx context.Context, jar CookieJar) (*model.Account, error) {
	token, found := jar.Get(CookieName)
	if !found {
		return nil, ErrNoSession
	}

	start := time.Now()
	accountID, err := w.provider.VerifySessionToken(ctx, token, true)
	w.observe("verify_session_token", start, err)
	if err != nil {
		if model.HasAuthCode(err, model.CodeProviderUnavailable) {
			return nil, fmt.Errorf("failed to verify session: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	start = time.Now()
	profile, err := w.profiles.Get(ctx, accountID)
	w.observe("get_profile", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrProfileMissing
	}

	return profile.WithID(accountID), nil
}

// GetCurrentUser はCurrentUserの結果を「ユーザーなし」に集約する。
// 未ログイン、無効なセッション、ストア障害のいずれもnilを返す。
func (w *Workflow) GetCurrentUser(ctx context.Context, jar CookieJar) *model.Account {
	account, err := w.CurrentUser(ctx, jar)
	w.metrics.RecordOperation("session_resolve", resolveKind(err))

	switch {
	case err == nil:
		return account
	case errors.Is(err, ErrNoSession):
	case errors.Is(err, ErrSessionInvalid), errors.Is(err, ErrProfileMissing):
		slog.Info("session not resolved",
			slog.String("op", "get_current_user"),
			slog.String("code", model.AuthErrorCode(err)),
			slog.String("reason", err.Error()),
		)
	default:
		slog.Error("failed to resolve session",
			slog.String("op", "get_current_user"),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// IsAuthenticated はGetCurrentUserがアカウントを返すかを判定する。
func (w *Workflow) IsAuthenticated(ctx context.Context, jar CookieJar) bool {
	return w.GetCurrentUser(ctx, jar) != nil
}

func resolveKind(err error) string {
	switch {
	case err == nil:
		return string(KindOK)
	case errors.Is(err, ErrNoSession):
		return "anonymous"
	case errors.Is(err, ErrSessionInvalid):
		return "invalid"
	case errors.Is(err, ErrProfileMissing):
		return "profile_missing"
	default:
		return string(KindProviderFault)
	}
}
