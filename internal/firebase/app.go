// Package firebase connects the portal to its hosted backend: Firebase Auth
// for accounts, the Identity Toolkit REST API for password and IdP sign-in,
// and Firestore for profile documents.
package firebase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"github.com/JonMunkholm/mp3portal/internal/config"
)

// Clients bundles the SDK clients the portal needs.
type Clients struct {
	Auth      *auth.Client
	Firestore *firestore.Client
	Toolkit   *identitytoolkit.Service
}

// Connect initializes the Firebase app and its clients from cfg.
func Connect(ctx context.Context, cfg config.FirebaseConfig) (*Clients, error) {
	credsOption, err := credentialOption(cfg)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{}
	if credsOption != nil {
		opts = append(opts, credsOption)
	} else {
		slog.Info("firebase using application default credentials")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Auth: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Firestore: %w", err)
	}

	toolkit, err := identitytoolkit.NewService(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		fsClient.Close()
		return nil, fmt.Errorf("identitytoolkit.NewService: %w", err)
	}

	slog.Info("firebase initialized", "project_id", cfg.ProjectID)
	return &Clients{Auth: authClient, Firestore: fsClient, Toolkit: toolkit}, nil
}

// Close releases the Firestore connection.
func (c *Clients) Close() error {
	if c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}

// credentialOption picks the service account source. A nil option means
// application default credentials.
func credentialOption(cfg config.FirebaseConfig) (option.ClientOption, error) {
	switch {
	case cfg.CredentialsJSONBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(cfg.CredentialsJSONBase64)
		if err != nil {
			return nil, errors.New("FIREBASE_CREDENTIALS_BASE64 is not a valid base64 string")
		}
		return option.WithCredentialsJSON(raw), nil
	case cfg.CredentialsFile != "":
		return option.WithCredentialsFile(cfg.CredentialsFile), nil
	default:
		return nil, nil
	}
}
