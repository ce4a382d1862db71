package rotation

// Outcome classifies a single rotation attempt.
type Outcome int

const (
	// OutcomeAccepted means the presented token was consumed and a new
	// access/refresh pair was issued.
	OutcomeAccepted Outcome = iota
	// OutcomeReuseDetected means the token carried a valid signature but
	// no stored family owns it: replay of a retired token or a forgery
	// minted with a leaked secret. The claimed principal's entire family
	// has been revoked.
	OutcomeReuseDetected
	// OutcomeExpired means the token was owned by a family but past its
	// expiry. It has still been retired from the family.
	OutcomeExpired
	// OutcomeMalformed means signature or format verification failed.
	OutcomeMalformed
	// OutcomeUnauthenticated means no token was presented, or its claims
	// did not match the owning family.
	OutcomeUnauthenticated
	// OutcomeStorageError means the family store failed or rotation
	// contention could not be resolved; the attempt is retryable.
	OutcomeStorageError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeReuseDetected:
		return "reuse_detected"
	case OutcomeExpired:
		return "expired"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeStorageError:
		return "storage_error"
	default:
		return "unknown"
	}
}

// Result carries the outcome of a rotation attempt and, when accepted,
// the newly issued token pair.
type Result struct {
	Outcome      Outcome
	PrincipalID  string
	Username     string
	AccessToken  string
	RefreshToken string
	Err          error
}
