package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// GoogleCredentials resolves credentials from a service-account JSON blob,
// or from Application Default Credentials when credentialsJSON is empty.
func GoogleCredentials(ctx context.Context, credentialsJSON string, scopes ...string) (*google.Credentials, error) {
	if strings.TrimSpace(credentialsJSON) != "" {
		creds, err := google.CredentialsFromJSON(ctx, []byte(credentialsJSON), scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse GOOGLE_CREDENTIALS: %w", err)
		}
		return creds, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("find default google credentials: %w", err)
	}
	return creds, nil
}

// GoogleClientOptions wraps GoogleCredentials for Google API clients.
func GoogleClientOptions(ctx context.Context, credentialsJSON string, scopes ...string) ([]option.ClientOption, error) {
	creds, err := GoogleCredentials(ctx, credentialsJSON, scopes...)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// ServiceAccountEmail returns client_email from a service-account JSON blob.
func ServiceAccountEmail(credentialsJSON string, scopes ...string) (string, error) {
	jwtCfg, err := google.JWTConfigFromJSON([]byte(credentialsJSON), scopes...)
	if err != nil {
		return "", err
	}
	return jwtCfg.Email, nil
}
