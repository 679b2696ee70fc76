// Package policy defines functions that control which connections are allowed,
// and which ones are denied. For server-side imposed policies, Allow functions
// are used to filter connections. For client-side imposed policies, Timeout
// functions are used to bound dial attempts.
//
// Allow functions are evaluated once per accepted connection, before anything
// is read from it. A refused connection is closed without a response, so that
// a probing client learns nothing from the refusal.
//
//	// Block an IP-address for one minute after 50 connection attempts within
//	// one minute.
//	window := policy.SlidingWindow(policy.DefaultWindowOptions())
//	// Additionally, allow 10 connection attempts per second per IP-address,
//	// with bursts of up to 20 attempts.
//	rateLimit := policy.RateLimit(10, 20, 65535)
//	// Compose these policies together to require that all of them pass.
//	all := policy.All(window, rateLimit)
//
// Timeout functions are similarly composable.
//
//	// Create a policy to Timeout after 1 second.
//	one := policy.ConstantTimeout(time.Second)
//	// Create a policy to scale this constant timeout by 60% with every attempt.
//	backoff := policy.LinearBackoff(1.6, one)
//	// Create a policy to clamp the Timeout to an upper bound of one minute, no
//	// matter how many attempts there have been.
//	max := policy.MaxTimeout(time.Minute, backoff)
package policy
