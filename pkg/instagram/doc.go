// Package instagram fetches profiles, timeline pages and post images from
// Instagram's web endpoints.
//
// Requests carry the configured session cookie, pass through an optional
// rate limiter and are retried on network, rate limit and server errors.
// Failures are typed with the shared errors package:
//
//	client := instagram.NewClient(30*time.Second, log,
//		instagram.WithLimiter(ratelimit.PerMinute(60)))
//	client.SetSession(sessionID, csrfToken, "")
//
//	profile, err := client.FetchUserProfile(ctx, "someone")
//	if errs.TypeOf(err) == errs.ErrorTypeAuth {
//		// session expired
//	}
package instagram
