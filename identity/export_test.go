package identity

// StripeOf exposes the lock stripe of a name to tests.
var StripeOf = stripeOf
