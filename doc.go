// Package bowtie calls REST services through declared methods instead of
// hand-built requests. Each method is a MethodSpec: an HTTP verb, a URI
// template, static headers and cookies, a circuit-breaker identity and the
// role of each argument (path variable, query parameter, header, cookie or
// body). A Client compiles a declaration once into an immutable Descriptor
// and then, per call:
//
//   - renders the request from the arguments, skipping absent optionals
//   - answers from the response cache when the cache holds the key
//   - runs the network call inside a resilience boundary (circuit breaker,
//     bulkhead, timeout, fallback) over a load-balanced transport
//   - decodes the body into the declared response type and stores it when
//     the caching policy allows
//
// Methods declared with ObservableType as their return are lazy: Invoke
// returns an *Observable and nothing is sent until it is subscribed.
//
// Typical usage:
//
//	var registry = bowtie.NewRegistry()
//
//	func init() {
//	    registry.MustRegister(bowtie.MethodSpec{
//	        ID:         "users.get",
//	        HTTP:       &bowtie.HTTP{Method: "GET", URITemplate: "/users/{id}"},
//	        Resilience: &bowtie.Resilience{GroupKey: "users", CommandKey: "get"},
//	        Params:     []bowtie.Param{bowtie.Path("id")},
//	        ReturnType: bowtie.TypeOf[User](),
//	    })
//	}
//
//	client := bowtie.New(
//	    bowtie.WithRegistry(registry),
//	    bowtie.WithServers("http://users-1:8080", "http://users-2:8080"),
//	    bowtie.WithInMemoryCache(time.Minute),
//	)
//	user, err := bowtie.Call[User](ctx, client, "users.get", 42)
//
// Arguments are never logged. Errors are *ClientError values; use errors.Is
// with the Err* sentinels to branch on their type.
package bowtie
