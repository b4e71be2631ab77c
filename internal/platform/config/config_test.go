package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "shop-dev" || cfg.Events.ProjectID != "shop-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %+v %+v", cfg.Firestore, cfg.Events)
	}
	if cfg.Store.Backend != StoreFirestore {
		t.Errorf("expected firestore store by default, got %s", cfg.Store.Backend)
	}
	if cfg.Checkout.Currency != "USD" || cfg.Checkout.TaxRateBasisPoints != 1000 {
		t.Errorf("unexpected checkout defaults: %+v", cfg.Checkout)
	}
	if cfg.Checkout.ShippingFlatCents != 0 {
		t.Errorf("expected free shipping by default, got %d", cfg.Checkout.ShippingFlatCents)
	}
	if cfg.PSP.Timeout != 10*time.Second || cfg.PSP.MaxAttempts != 3 {
		t.Errorf("unexpected psp defaults: %+v", cfg.PSP)
	}
	if cfg.Internal.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url, got %s", cfg.Internal.JWKSURL)
	}
	if !slices.Equal(cfg.Internal.OIDCIssuers, []string{defaultOIDCIssuer}) {
		t.Errorf("expected default issuer, got %v", cfg.Internal.OIDCIssuers)
	}
	if cfg.Internal.ReconcilePendingAge != 15*time.Minute || cfg.Internal.ReconcilePendingLimit != 100 {
		t.Errorf("unexpected sweep defaults: %+v", cfg.Internal)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_ENVIRONMENT":                            "PROD",
		"API_SERVER_PORT":                            "9090",
		"API_SERVER_WRITE_TIMEOUT":                   "25s",
		"API_FIREBASE_PROJECT_ID":                    "shop-prod",
		"API_ORDER_STORE":                            "Postgres",
		"API_POSTGRES_DSN":                           "sm://postgres/dsn",
		"API_CHECKOUT_CURRENCY":                      "eur",
		"API_CHECKOUT_TAX_RATE_BPS":                  "2000",
		"API_CHECKOUT_SHIPPING_FLAT_CENTS":           "499",
		"API_CHECKOUT_FREE_SHIPPING_THRESHOLD_CENTS": "10000",
		"API_PSP_STRIPE_API_KEY":                     "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":              "secret://stripe/webhook",
		"API_PSP_TIMEOUT":                            "4s",
		"API_PSP_MAX_ATTEMPTS":                       "5",
		"API_PUBSUB_PROJECT_ID":                      "shop-events",
		"API_PUBSUB_ORDER_TOPIC":                     "orders",
		"API_INTERNAL_OIDC_AUDIENCE":                 "https://checkout.example.com",
		"API_INTERNAL_OIDC_ISSUERS":                  "https://accounts.google.com, accounts.google.com",
		"API_RECONCILE_PENDING_AGE":                  "30m",
	}
	secrets := map[string]string{
		"secret://stripe/api":     "sk_live_123",
		"secret://stripe/webhook": "whsec_456",
		"secret://postgres/dsn":   "postgres://checkout@db/checkout",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		value, ok := secrets[ref]
		if !ok {
			return "", errors.New("unknown secret")
		}
		return value, nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" || cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config: %+v env=%s", cfg.Server, cfg.Environment)
	}
	if cfg.Store.Backend != StorePostgres || cfg.Store.PostgresDSN != "postgres://checkout@db/checkout" {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	want := CheckoutConfig{Currency: "EUR", TaxRateBasisPoints: 2000, ShippingFlatCents: 499, FreeShippingThresholdCents: 10000}
	if cfg.Checkout != want {
		t.Errorf("expected %+v, got %+v", want, cfg.Checkout)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_123" || cfg.PSP.StripeWebhookSecret != "whsec_456" {
		t.Errorf("secrets not resolved: %+v", cfg.PSP)
	}
	if cfg.PSP.Timeout != 4*time.Second || cfg.PSP.MaxAttempts != 5 {
		t.Errorf("unexpected psp bounds: %+v", cfg.PSP)
	}
	if cfg.Events.ProjectID != "shop-events" || cfg.Events.OrderTopic != "orders" {
		t.Errorf("unexpected events config: %+v", cfg.Events)
	}
	if len(cfg.Internal.OIDCIssuers) != 2 || cfg.Internal.ReconcilePendingAge != 30*time.Minute {
		t.Errorf("unexpected internal config: %+v", cfg.Internal)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"shop-local\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "shop-local" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "missing firebase project", env: map[string]string{}, field: "Firebase.ProjectID"},
		{name: "unknown store", env: map[string]string{"API_ORDER_STORE": "mongo"}, field: "Store.Backend"},
		{name: "postgres without dsn", env: map[string]string{"API_ORDER_STORE": "postgres"}, field: "Store.PostgresDSN"},
		{name: "bad currency", env: map[string]string{"API_CHECKOUT_CURRENCY": "XYZW"}, field: "Checkout.Currency"},
		{name: "tax over 100 percent", env: map[string]string{"API_CHECKOUT_TAX_RATE_BPS": "10001"}, field: "Checkout.TaxRateBasisPoints"},
		{name: "negative shipping", env: map[string]string{"API_CHECKOUT_SHIPPING_FLAT_CENTS": "-1"}, field: "Checkout.ShippingFlatCents"},
		{name: "zero attempts", env: map[string]string{"API_PSP_MAX_ATTEMPTS": "0"}, field: "PSP.MaxAttempts"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"}
			if tc.field == "Firebase.ProjectID" {
				env = map[string]string{}
			}
			for k, v := range tc.env {
				env[k] = v
			}
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !slices.Contains(validation.Fields(), tc.field) {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://stripe/api",
	}
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("permission denied")
	})

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %q", secretErr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey", "PSP.StripeWebhookSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if got := missing.Names(); !slices.Equal(got, []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}) {
		t.Fatalf("unexpected names %v", got)
	}
	for _, redacted := range missing.RedactedNames() {
		if len(redacted) != 16 {
			t.Fatalf("expected 16 hex chars, got %q", redacted)
		}
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	if err := os.WriteFile(envPath, []byte("API_ORDER_STORE=postgres\nAPI_SERVER_PORT=7070\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithoutSystemEnv(), WithEnvMap(map[string]string{"API_SERVER_PORT": "9000"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["API_ORDER_STORE"] != "postgres" {
		t.Fatalf("expected dotenv value, got %q", values["API_ORDER_STORE"])
	}
	if values["API_SERVER_PORT"] != "9000" {
		t.Fatalf("expected explicit map to win, got %q", values["API_SERVER_PORT"])
	}
}
