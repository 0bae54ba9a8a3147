package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds all configuration for the microsandbox server.
type Config struct {
	// HTTP
	ListenAddr string // e.g. ":8080"
	DevMode    bool   // skip bearer-token auth when true

	// Local state
	DataDir   string // root for rootfs uppers, supervisor sockets, sqlite db
	ImagesDir string // content-addressed OCI layer cache

	// Auth (C6)
	HMACSecretPath string // file holding the persisted HMAC secret
	SecretsARN     string // optional: AWS Secrets Manager secret whose JSON keys seed unset env vars

	// VM supervisor (C3)
	SupervisorBin          string // path to the cmd/supervisor binary the registry forks
	FirecrackerBin         string
	KernelPath             string
	PortalPort             int // VM-local port the portal listens on, default 4444
	StartTimeoutSeconds    int // sandbox.start bound, default 180
	StopGracePeriodSeconds int // grace period before killing an in-flight portal call on stop, default 10
	ReaperIntervalSeconds  int // reconcile() polling interval, default 15

	// Sandbox resource defaults (overridable per-sandbox via sandbox.start config)
	DefaultSandboxMemoryMB int
	DefaultSandboxCPUs     int
}

// Load reads configuration from environment variables with sensible
// defaults. If MICROSANDBOX_SECRETS_ARN is set, the named AWS Secrets
// Manager secret is fetched first and used to populate the process
// environment; explicit environment variables always take precedence.
func Load() (*Config, error) {
	if arn := os.Getenv("MICROSANDBOX_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		ListenAddr: envOrDefault("MICROSANDBOX_LISTEN_ADDR", ":8080"),
		DevMode:    os.Getenv("MICROSANDBOX_DEV_MODE") == "true",

		DataDir:   envOrDefault("MICROSANDBOX_DATA_DIR", "/data/microsandbox"),
		ImagesDir: os.Getenv("MICROSANDBOX_IMAGES_DIR"), // default derived from DataDir below

		HMACSecretPath: os.Getenv("MICROSANDBOX_HMAC_SECRET_PATH"),
		SecretsARN:     os.Getenv("MICROSANDBOX_SECRETS_ARN"),

		SupervisorBin:  envOrDefault("MICROSANDBOX_SUPERVISOR_BIN", "microsandbox-supervisor"),
		FirecrackerBin: envOrDefault("MICROSANDBOX_FIRECRACKER_BIN", "firecracker"),
		KernelPath:     os.Getenv("MICROSANDBOX_KERNEL_PATH"),

		PortalPort:             envOrDefaultInt("MICROSANDBOX_PORTAL_PORT", 4444),
		StartTimeoutSeconds:    envOrDefaultInt("MICROSANDBOX_START_TIMEOUT_SECONDS", 180),
		StopGracePeriodSeconds: envOrDefaultInt("MICROSANDBOX_STOP_GRACE_PERIOD_SECONDS", 10),
		ReaperIntervalSeconds:  envOrDefaultInt("MICROSANDBOX_REAPER_INTERVAL_SECONDS", 15),

		DefaultSandboxMemoryMB: envOrDefaultInt("MICROSANDBOX_DEFAULT_SANDBOX_MEMORY_MB", 512),
		DefaultSandboxCPUs:     envOrDefaultInt("MICROSANDBOX_DEFAULT_SANDBOX_CPUS", 1),
	}

	if cfg.ImagesDir == "" {
		cfg.ImagesDir = cfg.DataDir + "/images"
	}
	if cfg.HMACSecretPath == "" {
		cfg.HMACSecretPath = cfg.DataDir + "/auth/hmac.secret"
	}
	if cfg.KernelPath == "" {
		cfg.KernelPath = cfg.DataDir + "/firecracker/vmlinux"
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and
// sets its values as environment variables (only if not already set, so
// explicit env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}

	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}
