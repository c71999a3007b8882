package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/awslabs/lisa-deployer/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "configure":
		err = commandConfigure(args)
	case "deploy":
		err = commandDeploy(args)
	case "status":
		err = commandStatus(args)
	case "list":
		err = commandList(args)
	case "logs":
		err = commandLogs(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandConfigure(args []string) error {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default http://localhost:6000)")
	token := fs.String("token", "", "Access token (supply to avoid prompt)")
	fs.Parse(args)

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:6000"
	}

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Print("Access token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		return errors.New("an access token is required")
	}
	cfg.AccessToken = secret
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("configuration saved")
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	file := fs.String("file", "", "Path to a resourceConfig JSON document (- for stdin)")
	deploymentID := fs.String("deployment", "", "Optional deployment identifier")
	timeout := fs.Duration("timeout", 10*time.Minute, "How long to wait for the result")
	fs.Parse(args)

	if strings.TrimSpace(*file) == "" {
		return errors.New("--file is required")
	}
	payload, err := readPayload(*file)
	if err != nil {
		return err
	}
	if !json.Valid(payload) {
		return errors.New("resource configuration is not valid JSON")
	}

	cfg, token, err := requireAuth()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := client.Deploy(ctx, token, apiclient.DeployInput{
		DeploymentID:   strings.TrimSpace(*deploymentID),
		ResourceConfig: payload,
	})
	if err != nil {
		return err
	}
	if result.StackName == nil {
		fmt.Printf("deployment %s completed: no stack provisioned\n", result.DeploymentID)
		return nil
	}
	fmt.Printf("deployment %s completed: stack=%s\n", result.DeploymentID, *result.StackName)
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	deploymentID := fs.String("deployment", "", "Deployment identifier")
	fs.Parse(args)

	if strings.TrimSpace(*deploymentID) == "" {
		return errors.New("--deployment is required")
	}

	cfg, token, err := requireAuth()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dep, err := client.GetDeployment(ctx, token, *deploymentID)
	if err != nil {
		return err
	}
	fmt.Printf("id:       %s\n", dep.ID)
	fmt.Printf("status:   %s", dep.Status)
	if dep.Unverified {
		fmt.Print(" (unverified)")
	}
	fmt.Print("\n")
	if dep.StackName != "" {
		fmt.Printf("stack:    %s\n", dep.StackName)
	}
	fmt.Printf("resource: %s/%s\n", dep.ResourceType, dep.ResourceID)
	if dep.Message != "" {
		fmt.Printf("message:  %s\n", dep.Message)
	}
	if dep.Error != "" {
		fmt.Printf("error:    %s\n", dep.Error)
	}
	if dep.CompletedAt != nil {
		fmt.Printf("finished: %s\n", dep.CompletedAt.Format(time.RFC3339))
	}
	return nil
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of deployments")
	fs.Parse(args)

	cfg, token, err := requireAuth()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deployments, err := client.ListDeployments(ctx, token, *limit)
	if err != nil {
		return err
	}
	for _, dep := range deployments {
		fmt.Printf("%s\t%s\t%s\t%s\n", dep.ID, dep.Status, dep.StackName, dep.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	deploymentID := fs.String("deployment", "", "Deployment identifier")
	limit := fs.Int("limit", 100, "Maximum number of lines")
	offset := fs.Int("offset", 0, "Line offset")
	fs.Parse(args)

	if strings.TrimSpace(*deploymentID) == "" {
		return errors.New("--deployment is required")
	}

	cfg, token, err := requireAuth()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	entries, err := client.Logs(ctx, token, *deploymentID, *limit, *offset)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%s [%s] %s\n", entry.CreatedAt.Format(time.RFC3339), entry.Stream, entry.Line)
	}
	return nil
}

func requireAuth() (cliConfig, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return cliConfig{}, "", errors.New("please run 'lisadeploy configure' first")
	}
	return cfg, token, nil
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:6000"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:6000"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "lisadeploy", "config.json"), nil
}

func printUsage() {
	fmt.Printf("lisadeploy CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	lisadeploy configure [--api http://localhost:6000] [--token <token>]
	lisadeploy deploy --file <resource-config.json|-> [--deployment <id>] [--timeout 10m]
	lisadeploy status --deployment <id>
	lisadeploy list [--limit N]
	lisadeploy logs --deployment <id> [--limit N] [--offset N]
	lisadeploy version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
