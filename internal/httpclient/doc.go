// Package httpclient builds the HTTP client and requests used to drive load.
//
// [NewClient] returns a client with a pooled transport sized for many
// concurrent requests against a small set of hosts:
//
//	client := httpclient.NewClient(10 * time.Second)
//
// [NewRequestBuilder] validates a target once; [RequestBuilder.Build] then
// stamps out a request per call. When the dial address differs from the
// virtual host being exercised (an ingress reached through localhost), the
// host argument is sent as the Host header:
//
//	builder, err := httpclient.NewRequestBuilder("GET", "http://127.0.0.1:8080/", "foo.localhost", nil)
//	req, err := builder.Build(ctx)
//
// [ReadBody] reads a bounded prefix of a response body and drains the rest.
package httpclient
