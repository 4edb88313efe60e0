package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	goTenant "github.com/MrEthical07/goTenant"
	"github.com/MrEthical07/goTenant/middleware"
	"github.com/MrEthical07/goTenant/permission"
)

const usageScope = "usage"

type api struct {
	engine *goTenant.Engine
	log    zerolog.Logger
}

// newRouter mounts the public HTTP surface of the engine.
func newRouter(engine *goTenant.Engine, log zerolog.Logger, trustProxy bool) *mux.Router {
	a := &api{engine: engine, log: log}
	r := mux.NewRouter()
	r.Use(middleware.ClientMeta(trustProxy))

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", engine.MetricsHandler()).Methods(http.MethodGet)
	r.Handle("/webhooks/billing", middleware.BillingWebhook(engine))

	auth := r.PathPrefix("/v1/auth").Subrouter()
	auth.HandleFunc("/signup", a.signup).Methods(http.MethodPost)
	auth.HandleFunc("/signin", a.signin).Methods(http.MethodPost)
	auth.HandleFunc("/signin/two-factor", a.signinTwoFactor).Methods(http.MethodPost)
	auth.HandleFunc("/signin/provider", a.signinProvider).Methods(http.MethodPost)
	auth.HandleFunc("/magic", a.requestMagic).Methods(http.MethodPost)
	auth.HandleFunc("/magic/verify", a.verifyMagic).Methods(http.MethodPost)
	auth.HandleFunc("/verify", a.verifyEmail).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset", a.requestReset).Methods(http.MethodPost)
	auth.HandleFunc("/password/reset/confirm", a.confirmReset).Methods(http.MethodPost)
	auth.Handle("/signout", middleware.RequireUnverified(engine, permission.User)(http.HandlerFunc(a.signout))).Methods(http.MethodPost)

	acct := r.PathPrefix("/v1/account").Subrouter()
	user := middleware.Require(engine, permission.User)
	admin := middleware.Require(engine, permission.Admin)
	owner := middleware.Require(engine, permission.Owner)
	acct.Handle("/members", user(http.HandlerFunc(a.listMembers))).Methods(http.MethodGet)
	acct.Handle("/members", admin(http.HandlerFunc(a.addMember))).Methods(http.MethodPost)
	acct.Handle("/members/{user}", user(http.HandlerFunc(a.removeMember))).Methods(http.MethodDelete)
	acct.Handle("/members/{user}", admin(http.HandlerFunc(a.changePermission))).Methods(http.MethodPatch)
	acct.Handle("/switch", user(http.HandlerFunc(a.switchAccount))).Methods(http.MethodPost)
	acct.Handle("/plan", owner(http.HandlerFunc(a.createPlan))).Methods(http.MethodPost)
	acct.Handle("/plan", owner(http.HandlerFunc(a.updatePlan))).Methods(http.MethodPut)
	acct.Handle("/card", owner(http.HandlerFunc(a.updateCard))).Methods(http.MethodPut)
	acct.Handle("/invoices", owner(http.HandlerFunc(a.invoices))).Methods(http.MethodGet)
	acct.Handle("/usage", user(http.HandlerFunc(a.usageSummary))).Methods(http.MethodGet)
	acct.Handle("/keys", owner(http.HandlerFunc(a.listKeys))).Methods(http.MethodGet)
	acct.Handle("/keys", owner(http.HandlerFunc(a.createKey))).Methods(http.MethodPost)
	acct.Handle("/keys/{key}", owner(http.HandlerFunc(a.revokeKey))).Methods(http.MethodDelete)
	acct.Handle("", owner(http.HandlerFunc(a.closeAccount))).Methods(http.MethodDelete)

	me := r.PathPrefix("/v1/me/two-factor").Subrouter()
	me.Handle("", user(http.HandlerFunc(a.setupTwoFactor))).Methods(http.MethodPost)
	me.Handle("/enable", user(http.HandlerFunc(a.enableTwoFactor))).Methods(http.MethodPost)
	me.Handle("/backup-code", user(http.HandlerFunc(a.regenerateBackupCode))).Methods(http.MethodPost)
	me.Handle("", user(http.HandlerFunc(a.disableTwoFactor))).Methods(http.MethodDelete)

	r.Handle("/v1/usage", middleware.RequireAPIKey(engine, usageScope)(http.HandlerFunc(a.recordUsage))).Methods(http.MethodPost)
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.CreateAccount(r.Context(), goTenant.Signup{Email: req.Email, Password: req.Password, Name: req.Name})
	a.respond(w, http.StatusCreated, res, err)
}

func (a *api) signin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.SignIn(r.Context(), goTenant.Credentials{Email: req.Email, Password: req.Password})
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) signinTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeToken string `json:"challenge_token"`
		Code           string `json:"code"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.VerifyTwoFactorSignIn(r.Context(), req.ChallengeToken, req.Code, "", "")
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) signinProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		IDToken  string `json:"id_token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.SignInWithProvider(r.Context(), req.Provider, req.IDToken, "", "")
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) requestMagic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, http.StatusAccepted, nil, a.engine.RequestMagicLink(r.Context(), req.Email))
}

func (a *api) verifyMagic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.SignInWithMagicLink(r.Context(), req.Token, "", "")
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, http.StatusNoContent, nil, a.engine.VerifyEmail(r.Context(), req.Token))
}

func (a *api) requestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, http.StatusAccepted, nil, a.engine.RequestPasswordReset(r.Context(), req.Email))
}

func (a *api) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	a.respond(w, http.StatusNoContent, nil, a.engine.ResetPassword(r.Context(), req.Token, req.Password))
}

func (a *api) signout(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.SignOut(r.Context(), c))
}

func (a *api) listMembers(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	members, err := a.engine.ListMembers(r.Context(), c.AccountID)
	a.respond(w, http.StatusOK, members, err)
}

func (a *api) addMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Permission string `json:"permission"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	level, err := permission.Parse(req.Permission)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	m, err := a.engine.AddMember(r.Context(), c, req.Email, level)
	a.respond(w, http.StatusCreated, m, err)
}

func (a *api) removeMember(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.RemoveMember(r.Context(), c, mux.Vars(r)["user"]))
}

func (a *api) changePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission string `json:"permission"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	level, err := permission.Parse(req.Permission)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.ChangePermission(r.Context(), c, mux.Vars(r)["user"], level))
}

func (a *api) switchAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	res, err := a.engine.SwitchAccount(r.Context(), c, req.AccountID)
	a.respond(w, http.StatusOK, res, err)
}

type planBody struct {
	Plan         string                  `json:"plan"`
	PaymentToken string                  `json:"payment_token"`
	Confirmed    *goTenant.PaymentAction `json:"confirmed"`
}

func (a *api) createPlan(w http.ResponseWriter, r *http.Request) {
	var req planBody
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	res, err := a.engine.CreatePlan(r.Context(), c.AccountID, goTenant.PlanRequest{
		Plan:         req.Plan,
		PaymentToken: req.PaymentToken,
		Confirmed:    req.Confirmed,
	})
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) updatePlan(w http.ResponseWriter, r *http.Request) {
	var req planBody
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	var (
		res *goTenant.PlanResult
		err error
	)
	if req.PaymentToken != "" || req.Confirmed != nil {
		res, err = a.engine.UpgradePlan(r.Context(), c.AccountID, goTenant.PlanRequest{
			Plan:         req.Plan,
			PaymentToken: req.PaymentToken,
			Confirmed:    req.Confirmed,
		})
	} else {
		res, err = a.engine.UpdatePlan(r.Context(), c.AccountID, req.Plan)
	}
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) updateCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentToken string `json:"payment_token"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.UpdateCard(r.Context(), c.AccountID, req.PaymentToken))
}

func (a *api) invoices(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	inv, err := a.engine.Invoices(r.Context(), c.AccountID)
	a.respond(w, http.StatusOK, inv, err)
}

func (a *api) usageSummary(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	sum, err := a.engine.UsageSummary(r.Context(), c.AccountID)
	a.respond(w, http.StatusOK, sum, err)
}

func (a *api) listKeys(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	keys, err := a.engine.ListAPIKeys(r.Context(), c.AccountID)
	for i := range keys {
		keys[i].Key = ""
	}
	a.respond(w, http.StatusOK, keys, err)
}

func (a *api) createKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	k, err := a.engine.CreateAPIKey(r.Context(), c.AccountID, req.Name, req.Scopes)
	a.respond(w, http.StatusCreated, k, err)
}

func (a *api) revokeKey(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.RevokeAPIKey(r.Context(), c.AccountID, mux.Vars(r)["key"]))
}

func (a *api) closeAccount(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.CloseAccount(r.Context(), c))
}

func (a *api) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	res, err := a.engine.SetupTwoFactor(r.Context(), c.UserID)
	a.respond(w, http.StatusOK, res, err)
}

func (a *api) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	backup, err := a.engine.EnableTwoFactor(r.Context(), c.UserID, req.Code)
	a.respond(w, http.StatusOK, map[string]string{"backup_code": backup}, err)
}

func (a *api) regenerateBackupCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	c, _ := middleware.ClaimsFromContext(r.Context())
	backup, err := a.engine.RegenerateBackupCode(r.Context(), c.UserID, req.Code)
	a.respond(w, http.StatusOK, map[string]string{"backup_code": backup}, err)
}

func (a *api) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.ClaimsFromContext(r.Context())
	a.respond(w, http.StatusNoContent, nil, a.engine.DisableTwoFactor(r.Context(), c.UserID))
}

func (a *api) recordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int64 `json:"quantity"`
	}
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	id, _ := middleware.APIKeyFromContext(r.Context())
	a.respond(w, http.StatusAccepted, nil, a.engine.RecordUsage(r.Context(), id.AccountID, req.Quantity))
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes body on success. A plan change that needs the customer to
// confirm a payment is reported with 402 and the action to complete.
func (a *api) respond(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		if goTenant.StatusOf(err) >= http.StatusInternalServerError {
			a.log.Error().Err(err).Msg("request failed")
		}
		var block *goTenant.RiskBlock
		if errors.As(err, &block) {
			writeJSON(w, block.Status(), map[string]any{"error": err.Error(), "risk_level": block.Level})
			return
		}
		middleware.WriteError(w, err)
		return
	}
	if res, ok := body.(*goTenant.PlanResult); ok && res.RequiresPaymentAction {
		status = http.StatusPaymentRequired
	}
	if body == nil || status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
