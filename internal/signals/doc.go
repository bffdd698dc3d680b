// Package signals lets other parts of the gateway observe account creation
// without the authentication backend knowing about them.
//
// Handlers run synchronously, in subscription order, on the goroutine that
// created the user. Keep them fast; anything slow should hand off to its own
// goroutine.
package signals
