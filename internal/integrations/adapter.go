// Package integrations defines the ERP adapter contract and the helpers shared by provider adapters.
package integrations

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linecare/internal/cache"
	"linecare/internal/httpclient"
	"linecare/internal/model"
)

// Adapter is implemented by every provider.
// TestConnection and Sync never return errors; failures are reported in the result.
type Adapter interface {
	Provider() string
	TestConnection(ctx context.Context) ConnectionResult
	Sync(ctx context.Context, action model.Action) model.SyncResult
	ValidateConfig() ValidationResult
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// LocalData is the slice of the store adapters read and write.
type LocalData interface {
	ListStockRecords(ctx context.Context, companyID string) ([]model.StockRecord, error)
	FindPurchaseOrderByExternalRef(ctx context.Context, companyID, ref string) (model.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, id string, upd model.PurchaseOrderUpdate) error
	ListCompletedWorkOrderCosts(ctx context.Context, companyID string) ([]model.WorkOrderCost, error)
}

// UnmatchedPurchaseOrderFunc receives a normalized remote purchase order that has no local counterpart.
type UnmatchedPurchaseOrderFunc func(ctx context.Context, companyID string, remote map[string]any) error

// Deps is everything a provider constructor gets.
type Deps struct {
	Integration model.Integration
	Local       LocalData
	HTTP        *httpclient.Client
	Tokens      cache.TokenCache
	Logger      *zap.Logger
	// Limiter paces per-record remote calls; nil means unlimited.
	Limiter *rate.Limiter
	// OnUnmatchedPurchaseOrder is nil unless the deployment creates local POs from remote ones.
	OnUnmatchedPurchaseOrder UnmatchedPurchaseOrderFunc
}

// WithDefaults fills in a logger, HTTP client and token cache where missing.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil { d.Logger = zap.NewNop() }
	if d.HTTP == nil { d.HTTP = httpclient.New(httpclient.DefaultConfig(), d.Logger) }
	if d.Tokens == nil { d.Tokens = cache.NewMemory() }
	if d.Limiter == nil { d.Limiter = LimiterFor(d.Integration) }
	return d
}

// LimiterFor reads the optional rate_limit config key (requests per second).
func LimiterFor(in model.Integration) *rate.Limiter {
	rps := in.ConfigFloat("rate_limit", 0)
	if rps <= 0 { return nil }
	burst := int(rps)
	if burst < 1 { burst = 1 }
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RequireKeys reports one error per missing or blank config key.
func RequireKeys(in model.Integration, keys ...string) []string {
	var errs []string
	for _, k := range keys {
		if in.ConfigString(k) == "" {
			errs = append(errs, fmt.Sprintf("missing required config key: %s", k))
		}
	}
	return errs
}

// Validation builds a ValidationResult; errs may be nil.
func Validation(errs ...string) ValidationResult {
	if errs == nil { errs = []string{} }
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// JoinURL joins a base URL and a path with exactly one slash.
func JoinURL(base, path string) string {
	if path == "" { return strings.TrimRight(base, "/") }
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Connected and Unreachable are the two TestConnection outcomes.
func Connected(provider string) ConnectionResult {
	return ConnectionResult{Success: true, Message: "Connected to " + provider}
}

func Unreachable(provider string, err error) ConnectionResult {
	return ConnectionResult{Success: false, Message: fmt.Sprintf("%s connection failed: %v", provider, err)}
}
