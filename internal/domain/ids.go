package domain

// SessionToken scopes one logical form instance. Every surface and the host page
// of that form share it; unrelated forms on the same page never see each other's
// bus traffic. We model it as opaque even though the host generates UUIDs.
type SessionToken string

// Nonce is the opaque reusable payment-method reference returned by tokenization.
type Nonce string
