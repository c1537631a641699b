// Package upload authenticates uploaded documents by their leading bytes.
//
// Sniff walks an ordered signature table (PDF, OOXML package, bare ZIP, and
// two text heuristics that only apply when text/plain was declared) and
// returns the first matching format. Authenticator layers the upload policy
// on top: size ceiling, emptiness, accepted declared types, and a strict
// declared-versus-detected comparison. Unknown content fails closed.
//
//	auth := upload.NewAuthenticator(10<<20, logger)
//	out := auth.Authenticate(ctx, data, "application/pdf", 0)
//	if !out.Valid {
//		return out.Err()
//	}
//
// Rejections caused by a signature mismatch are logged at Warn with the
// payload size, both types and the first 16 bytes in hex. Payload content
// beyond that is never logged.
package upload
