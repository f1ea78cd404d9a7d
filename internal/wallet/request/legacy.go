package request

import (
	"context"
	"net/url"
	"strings"

	"github/clearid/wallet-engine/internal/wallet"
)

// ResolveLegacy normalizes the older URL wire variant, e.g.
//
//	me.uport:2nQtiQG6Cgm1GYTBaaKAgr76uY7iSexUkqX?value=0x10&function=...
//	me.uport:deploy?bytecode=0x6060...&client_id=...
//
// The opaque part is the destination (or the literal "deploy" for contract
// creation); everything else rides in the query string under legacy names.
// It normalizes to the same canonical shape and reuses the transaction
// resolution path, so account selection behaves identically.
func (r *Resolver) ResolveLegacy(ctx context.Context, rawURL string) *wallet.TransactionRequest {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		req := &wallet.TransactionRequest{}
		return r.flag(req, "Invalid request URL")
	}

	destination := parsed.Opaque
	if destination == "" {
		destination = strings.TrimPrefix(parsed.Path, "/")
	}

	query := parsed.Query()
	payload := &Payload{
		Value:       query.Get("value"),
		Fn:          query.Get("function"),
		Data:        query.Get("bytecode"),
		Net:         query.Get("net"),
		Gas:         query.Get("gas"),
		GasPrice:    query.Get("gasPrice"),
		Iss:         query.Get("client_id"),
		CallbackURL: query.Get("callback_url"),
	}

	if destination == "deploy" || strings.HasPrefix(destination, "deploy/") {
		// contract creation: no destination, bytecode may ride on the path
		if trailing := strings.TrimPrefix(destination, "deploy/"); trailing != "deploy" && trailing != "" {
			payload.Data = trailing
		}
		if payload.Data == "" {
			return r.flag(&wallet.TransactionRequest{ClientID: payload.Iss}, "Missing bytecode for contract deployment")
		}
	} else {
		payload.To = destination
	}

	return r.Resolve(ctx, payload)
}
