// Package password hashes passwords with Argon2id and verifies them.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify also accepts bcrypt hashes so users imported from an older store
// can still sign in; NeedsRehash then asks the caller to replace them.
package password
