// Package password hashes and verifies staff passwords.
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also accepts bcrypt hashes carried over from legacy staff records and
// reports them through [Hasher.NeedsUpgrade] so the caller can re-hash on the
// next successful login. Plaintext passwords are never stored or logged here.
package password
