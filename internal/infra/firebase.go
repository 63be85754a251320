// README: Firebase Admin SDK initialisation for the realtime position feed.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// NewFirebaseDB creates an RTDB client. If credentialsFile is non-empty it is
// used as the service-account JSON path; otherwise application-default
// credentials / GOOGLE_APPLICATION_CREDENTIALS are used. When databaseURL is
// empty it is derived from the project id.
func NewFirebaseDB(ctx context.Context, projectID, databaseURL, credentialsFile string) (*db.Client, error) {
	if databaseURL == "" {
		databaseURL = fmt.Sprintf("https://%s-default-rtdb.asia-southeast1.firebasedatabase.app", projectID)
	}
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Database: %w", err)
	}
	return client, nil
}
