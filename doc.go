// Package lettings is a client for a property-rental marketplace API.
//
// The package is split into layers:
//
// The client package holds the authenticated HTTP client. Every request carries
// the stored access token; a 401 triggers one token refresh that is shared by
// every request failing at the same time, after which the queued requests are
// replayed in order with the new token. When the refresh fails the session is
// cleared and the user is sent to the login page.
//
// The client/stores packages persist the session (file, Redis, SQL through
// GORM, Cloud Datastore, any scs store). client/grpc applies the same refresh
// handling to gRPC calls.
//
// This package sits on top and shapes requests and responses for the
// marketplace: property search, tenancy applications, document uploads,
// references, viewing invites, chat and the inbox.
//
// # Basic Usage
//
//	storage, _ := fs.New("", "lettings", "https://api.example.com")
//	auth := client.NewAuthenticator("https://api.example.com", storage,
//	    client.WithNavigator(nav),
//	    client.WithNotifier(notifier),
//	)
//	api := lettings.NewAPI(client.NewPair("https://api.example.com", auth))
//
//	page, err := api.SearchProperties(ctx, lettings.PropertySearch{Location: "Leeds", MinBedrooms: 2})
//
// Payloads from older API versions use camelCase keys, numeric ids and
// flattened blocks. NormalizeApplication and NormalizeViewingInvite reconcile
// those shapes into the types here.
package lettings
