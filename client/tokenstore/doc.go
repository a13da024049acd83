// Package tokenstore persists the client's token pair and cached profile.
//
// Keys are split into two tiers by a Classifier. Tokens go to the secure
// tier, everything else to the plain tier, and the split never changes for a
// given key. The secure tier only accepts backends that report Secure().
//
//	store, err := tokenstore.New(tokenstore.Options{
//		Secure: encrypted, // *EncryptedFileBackend
//		Plain:  tokenstore.NewFileBackend(statePath),
//	})
package tokenstore
