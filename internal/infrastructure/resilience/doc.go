/*
Package resilience provides circuit breakers for upstream calls.

A Breaker moves between three states:

	Closed --[trip]-> Open --[cooldown]-> Half-Open --[probes succeed]-> Closed
	                                          |
	                                      [failure]
	                                          v
	                                         Open

Callers take a done function from Allow and report the outcome once the call
finishes, which suits calls whose result arrives later than the request:

	done, err := breaker.Allow()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	done(err == nil && resp.StatusCode < 500)

A Group keys breakers by name, for example one per upstream host.
*/
package resilience
