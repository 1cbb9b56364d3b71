// Package secure keeps revealed secret values out of plain Go memory.
//
// Values fetched from Key Vault, and drafts typed while editing, are sealed
// in a memguard enclave (XSalsa20Poly1305, mlocked where the platform
// allows). They are only decrypted for the moment they are rendered or
// written back to the vault.
//
//	buf := secure.NewString("s3cret")
//	defer buf.Destroy()
//
//	plain, err := buf.Reveal()
//
// Destroying a buffer is idempotent. Call memguard.Purge (see Purge) at
// process exit to wipe everything that is still sealed.
package secure
