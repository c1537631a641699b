package security

// Event type constants for security audit logging.
const (
	// Quota events

	// EventQuotaExceeded is logged when an identity has used its whole window allowance
	EventQuotaExceeded = "quota_exceeded"

	// EventQuotaStoreFailure is logged when the quota store cannot be reached and the request is refused
	EventQuotaStoreFailure = "quota_store_failure"

	// EventBurstLimitExceeded is logged when the short-term burst limiter rejects a request
	EventBurstLimitExceeded = "burst_limit_exceeded"

	// Identity events

	// EventFingerprintIdentity is logged when no usable address was supplied and
	// the caller is keyed on the header fingerprint alone
	EventFingerprintIdentity = "fingerprint_identity"

	// Upload events

	// EventUploadRejected is logged when an upload fails size or emptiness checks
	// or declares a type the guard does not accept
	EventUploadRejected = "upload_rejected"

	// EventUploadSignatureMismatch is logged when the detected content type
	// disagrees with the declared one. This is the primary spoofing signal.
	EventUploadSignatureMismatch = "upload_signature_mismatch"
)
