// Package instagram is the remote side of igfeed: credential login, cookie
// session export and import, profile resolution, timeline pagination and
// media download against the Instagram web API.
//
// Every error returned by the client carries an errors.ErrorType so the
// failure policy can classify it:
//
//	page, err := client.FetchPage(ctx, profile.ID, cursor)
//	if err != nil {
//	    switch errors.TypeOf(err) {
//	    case errors.ErrorTypeRateLimit:
//	        // cool down, then move on
//	    case errors.ErrorTypeLoginRequired:
//	        // the stored session was rejected
//	    }
//	}
//
// API calls pass through a token bucket limiter. Media downloads go to the
// CDN on a separate client and are retried on server errors only.
package instagram
