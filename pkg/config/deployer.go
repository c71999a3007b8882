package config

import (
	"errors"
	"strings"
	"time"
)

// DeployerConfig holds runtime configuration for the stack deployer service.
type DeployerConfig struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	MigrationsDir   string
	AppName         string
	DeploymentName  string
	DeploymentStage string
	CDKBinary       string
	ProjectDir      string
	ScratchDir      string
	ContextFile     string
	DeployTimeout   time.Duration
	AuthSecret      string
	TokenTTL        time.Duration
	EncryptionKey   string
	VerifyEnabled   bool
	VerifyInterval  time.Duration
	VerifyMinAge    time.Duration
	LogRetainLines  int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
}

// LoadDeployerConfig constructs a DeployerConfig from environment variables.
func LoadDeployerConfig() DeployerConfig {
	return DeployerConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("DEPLOYER_ADDR", ":6000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://lisa:lisa@db:5432/lisa?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		AppName:         GetString("APP_NAME", ""),
		DeploymentName:  GetString("DEPLOYMENT_NAME", ""),
		DeploymentStage: GetString("DEPLOYMENT_STAGE", ""),
		CDKBinary:       GetString("CDK_BINARY", "cdk"),
		ProjectDir:      GetString("PROJECT_DIR", "."),
		ScratchDir:      GetString("SCRATCH_DIR", "/tmp/lisa-deployer"),
		ContextFile:     GetString("CDK_CONTEXT_FILE", "cdk.context.json"),
		DeployTimeout:   time.Duration(GetInt("DEPLOY_TIMEOUT_SECONDS", 180)) * time.Second,
		AuthSecret:      GetString("DEPLOYER_AUTH_SECRET", ""),
		TokenTTL:        time.Duration(GetInt("DEPLOYER_TOKEN_TTL_MIN", 60)) * time.Minute,
		EncryptionKey:   GetString("CONFIG_ENCRYPTION_KEY", ""),
		VerifyEnabled:   GetBool("VERIFY_ENABLED", true),
		VerifyInterval:  time.Duration(GetInt("VERIFY_INTERVAL_SECONDS", 60)) * time.Second,
		VerifyMinAge:    time.Duration(GetInt("VERIFY_MIN_AGE_SECONDS", 120)) * time.Second,
		LogRetainLines:  GetInt("DEPLOY_LOG_RETAIN_LINES", 2000),
		RedisAddr:       GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RedisPassword:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RedisDB:         GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// Validate ensures the deployment context required for stack naming is present.
// Missing values are a fatal configuration error raised before any subprocess starts.
func (c DeployerConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AppName) == "" {
		missing = append(missing, "APP_NAME")
	}
	if strings.TrimSpace(c.DeploymentName) == "" {
		missing = append(missing, "DEPLOYMENT_NAME")
	}
	if strings.TrimSpace(c.DeploymentStage) == "" {
		missing = append(missing, "DEPLOYMENT_STAGE")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}
	if c.DeployTimeout <= 0 {
		return errors.New("DEPLOY_TIMEOUT_SECONDS must be positive")
	}
	return nil
}
