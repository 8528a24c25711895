// Package webhook serves signed endpoints that submit text from other
// devices, for example a phone share shortcut posting a link.
//
// Every request body is authenticated with HMAC-SHA256 over the raw bytes
// using a per-endpoint secret. Failures always answer a generic 403.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8766"
//	  endpoints:
//	    - path: /share/phone
//	      secret: ${CLIPRUN_SHARE_SECRET}
//	      signature_header: X-Signature-256   # default
//	      max_body_size: 64KB
//	      rule: Audio                          # optional
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked (413 if too large)
//  3. HMAC-SHA256 of the body compared in constant time (403 on mismatch)
//  4. Text extracted: the "text" field of a JSON body, otherwise the body
//  5. With rule set, that rule runs on the text; otherwise the text is
//     matched like clipboard text and autorun applies
//  6. 202 Accepted
package webhook
