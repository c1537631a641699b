// Package guard protects a document upload endpoint from abuse.
//
// A request passes through four stages before it reaches the wrapped
// handler:
//
//  1. Identity: the caller is keyed by a validated client address from a
//     trusted header, combined with a header fingerprint when the address is
//     missing or not publicly routable.
//  2. Burst limiting (optional): a per-identity token bucket throttles rapid
//     retries.
//  3. Quota: a fixed-window counter admits a limited number of requests per
//     identity per window (5 per 24 hours by default). Counters live in a
//     storage.QuotaStore; memory, Valkey and Redis backends are provided.
//  4. Content authentication: the decoded file must carry the magic bytes of
//     the type it declares. Unrecognized content is rejected.
//
// Basic usage:
//
//	srv, err := guard.NewServer(nil, &guard.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop()
//
//	h := guard.NewHandler(srv, nil)
//	mux.Handle("POST /api/analyze", h.ServeAnalyze(myAnalyzer))
//
// Downstream handlers wrapped with Handler.Protect read the authenticated
// upload with UploadFromContext.
package guard
