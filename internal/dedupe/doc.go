// Package dedupe remembers recently presented keys for a fixed window so a
// verifier can refuse an assertion that is presented twice.
package dedupe
