package proxy

import (
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"
)

// modelPath builds the LogicModuleModel.Endpoint form of an inbound model
// segment, e.g. "orders" → "/orders/".
func modelPath(model string) string {
	return "/" + strings.Trim(model, "/") + "/"
}

// parseQuery copies fasthttp's query args into a net/url.Values so the rest
// of the engine (datamesh, upstream, respcache) can use the standard
// library's query representation.
func parseQuery(args *fasthttp.Args) url.Values {
	q := url.Values{}
	args.VisitAll(func(key, value []byte) {
		q.Add(string(key), string(value))
	})
	return q
}

// takeJoin reports whether the gateway-private "join" query parameter is
// present and removes it from q. "aggregate" is recognized and stripped
// too, but the legacy aggregate path is not implemented — its
// presence has no further effect.
func takeJoin(q url.Values) bool {
	_, present := q["join"]
	delete(q, "join")
	delete(q, "aggregate")
	return present
}

// hopByHopResponseHeaders are never copied from an upstream response onto
// the gateway's own response — fasthttp recomputes them from the body it is
// actually given.
var hopByHopResponseHeaders = map[string]struct{}{
	"Content-Length":    {},
	"Transfer-Encoding": {},
	"Connection":        {},
}
