package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
	awsauth "github.com/hashicorp/vault/api/auth/aws"
)

// loginVault authenticates the client with the configured method. An empty
// method prefers an ambient VAULT_TOKEN and then falls back to AWS IAM,
// which matches the relay's default EC2 deployment.
func loginVault(ctx context.Context, client *api.Client, cfg VaultConfig) error {
	switch cfg.AuthMethod {
	case AuthMethodAWS:
		return loginAWSIAM(ctx, client, cfg)
	case AuthMethodKubernetes, AuthMethodK8s:
		return loginKubernetes(ctx, client, cfg)
	case AuthMethodAppRole:
		return loginAppRole(ctx, client, cfg)
	case AuthMethodToken:
		if cfg.Token != "" {
			client.SetToken(cfg.Token)
		}
		return nil
	case "":
		if token := os.Getenv("VAULT_TOKEN"); token != "" {
			client.SetToken(token)
			return nil
		}
		return loginAWSIAM(ctx, client, cfg)
	default:
		return fmt.Errorf("unsupported vault auth method %q", cfg.AuthMethod)
	}
}

func loginAWSIAM(ctx context.Context, client *api.Client, cfg VaultConfig) error {
	opts := []awsauth.LoginOption{awsauth.WithIAMAuth()}
	if cfg.AWSRole != "" {
		opts = append(opts, awsauth.WithRole(cfg.AWSRole))
	}
	if cfg.AWSRegion != "" {
		opts = append(opts, awsauth.WithRegion(cfg.AWSRegion))
	}

	method, err := awsauth.NewAWSAuth(opts...)
	if err != nil {
		return fmt.Errorf("failed to configure AWS IAM auth: %w", err)
	}

	info, err := client.Auth().Login(ctx, method)
	if err != nil {
		return fmt.Errorf("AWS IAM login failed for role %q: %w", cfg.AWSRole, err)
	}
	if info == nil {
		return fmt.Errorf("AWS IAM login for role %q returned no token", cfg.AWSRole)
	}
	return nil
}

// loginKubernetes exchanges the pod's service account token for a Vault
// token. The JWT path is defaulted and validated at config load.
func loginKubernetes(ctx context.Context, client *api.Client, cfg VaultConfig) error {
	jwt, err := os.ReadFile(cfg.K8sJWTPath)
	if err != nil {
		return fmt.Errorf("failed to read service account token: %w", err)
	}

	secret, err := client.Logical().WriteWithContext(ctx, "auth/kubernetes/login", map[string]interface{}{
		"role": cfg.K8sRole,
		"jwt":  strings.TrimSpace(string(jwt)),
	})
	if err != nil {
		return fmt.Errorf("kubernetes login failed for role %q: %w", cfg.K8sRole, err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("kubernetes login for role %q returned no token", cfg.K8sRole)
	}

	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func loginAppRole(ctx context.Context, client *api.Client, cfg VaultConfig) error {
	secret, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
		"role_id":   cfg.AppRoleID,
		"secret_id": cfg.AppRoleSecretID,
	})
	if err != nil {
		return fmt.Errorf("approle login failed: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("approle login returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	return nil
}
