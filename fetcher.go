package treeverse

import "context"

// FetchRequest is one outbound GET. ID correlates the Response with the request
// that produced it when the fetch crosses a process or message boundary.
type FetchRequest struct {
	ID  string
	URL string
}

// Fetcher performs the network call on behalf of the core, including whatever
// authentication the transport needs. A 429 is returned as a Response, not an error.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	return f(ctx, req)
}
